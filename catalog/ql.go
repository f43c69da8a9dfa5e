package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/cznic/ql/driver"
)

var memcount int64

// This file implements the record store on the QL embedded database.
// It is intended for development and testing; production installs use
// the MySQL store.

type qlStore struct {
	db *sql.DB
}

var _ Store = &qlStore{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS templates (
		id string,
		title string,
		category string,
		author string,
		active bool,
		modified time,
		value blob
	);
	CREATE INDEX IF NOT EXISTS templateid ON templates (id);
	CREATE INDEX IF NOT EXISTS templatecategory ON templates (category);
`

// NewQlStore opens a record store saved in the given file. The special
// name "memory" keeps everything in the process memory; every such call
// gets its own database, since the ql driver shares in-memory databases
// with the same name.
func NewQlStore(filename string) (Store, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", fmt.Sprintf("mem%d.db", atomic.AddInt64(&memcount, 1)))
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		return nil, err
	}
	return &qlStore{db: db}, nil
}

func (qs *qlStore) FindByID(id string) (*Template, error) {
	const query = `SELECT value FROM templates WHERE id == ?1 LIMIT 1`

	var value []byte
	err := qs.db.QueryRow(query, id).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	t := new(Template)
	if err := json.Unmarshal(value, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (qs *qlStore) FindAllActive() ([]*Template, error) {
	return qs.scan(`SELECT value FROM templates WHERE active == true`)
}

func (qs *qlStore) FindAll() ([]*Template, error) {
	return qs.scan(`SELECT value FROM templates`)
}

func (qs *qlStore) FindByTitle(q string) ([]*Template, error) {
	// QL has no case folding functions, so scan and filter here. Fine
	// for the data sizes this backend is used with.
	all, err := qs.scan(`SELECT value FROM templates`)
	if err != nil {
		return nil, err
	}
	q = strings.ToLower(q)
	var result []*Template
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Title), q) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (qs *qlStore) FindByCategory(category string) ([]*Template, error) {
	return qs.scan(`SELECT value FROM templates WHERE category == ?1`, category)
}

func (qs *qlStore) FindByAuthor(author string) ([]*Template, error) {
	return qs.scan(`SELECT value FROM templates WHERE author == ?1`, author)
}

func (qs *qlStore) scan(query string, args ...interface{}) ([]*Template, error) {
	rows, err := qs.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Template
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		t := new(Template)
		if err := json.Unmarshal(value, t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (qs *qlStore) Save(t *Template) error {
	const update = `UPDATE templates SET title = ?2, category = ?3, author = ?4, active = ?5, modified = ?6, value = ?7 WHERE id == ?1`
	const insert = `INSERT INTO templates VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)`

	if t.ID == "" {
		t.ID = mintID()
	}
	value, err := json.Marshal(t)
	if err != nil {
		return err
	}
	result, err := performExec(qs.db, update,
		t.ID, t.Title, t.Category, t.Author, t.IsActive, t.UpdatedAt, value)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		_, err = performExec(qs.db, insert,
			t.ID, t.Title, t.Category, t.Author, t.IsActive, t.UpdatedAt, value)
	}
	return err
}

func (qs *qlStore) Delete(id string) error {
	_, err := performExec(qs.db, `DELETE FROM templates WHERE id == ?1`, id)
	return err
}

// QL requires statements to run inside a transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
