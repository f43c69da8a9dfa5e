package catalog

import (
	"database/sql"
	"encoding/json"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
)

// This file implements the record store on MySQL, the production
// backend. The schema is versioned with the migration package; add new
// migrations to the end of the list and never reorder existing ones.

type mysqlStore struct {
	db *sql.DB
}

var _ Store = &mysqlStore{}

var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlStore connects to a MySQL database using the given dial
// string, e.g. "user:password@tcp(localhost:3306)/crafthub", and runs any
// pending schema migrations.
func NewMysqlStore(dial string) (Store, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		return nil, err
	}
	return &mysqlStore{db: db}, nil
}

func (ms *mysqlStore) FindByID(id string) (*Template, error) {
	const query = `SELECT value FROM templates WHERE id = ? LIMIT 1`

	var value []byte
	err := ms.db.QueryRow(query, id).Scan(&value)
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

func (ms *mysqlStore) FindAllActive() ([]*Template, error) {
	return ms.scan(`SELECT value FROM templates WHERE active`)
}

func (ms *mysqlStore) FindAll() ([]*Template, error) {
	return ms.scan(`SELECT value FROM templates`)
}

func (ms *mysqlStore) FindByTitle(q string) ([]*Template, error) {
	return ms.scan(
		`SELECT value FROM templates WHERE LOWER(title) LIKE CONCAT('%', LOWER(?), '%')`, q)
}

func (ms *mysqlStore) FindByCategory(category string) ([]*Template, error) {
	return ms.scan(`SELECT value FROM templates WHERE category = ?`, category)
}

func (ms *mysqlStore) FindByAuthor(author string) ([]*Template, error) {
	return ms.scan(`SELECT value FROM templates WHERE author = ?`, author)
}

func (ms *mysqlStore) scan(query string, args ...interface{}) ([]*Template, error) {
	rows, err := ms.db.Query(query, args...)
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

func (ms *mysqlStore) Save(t *Template) error {
	const stmt = `
		INSERT INTO templates (id, title, category, author, active, modified, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title=VALUES(title), category=VALUES(category), author=VALUES(author),
			active=VALUES(active), modified=VALUES(modified), value=VALUES(value)`

	if t.ID == "" {
		t.ID = mintID()
	}
	value, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = ms.db.Exec(stmt, t.ID, t.Title, t.Category, t.Author, t.IsActive, t.UpdatedAt, value)
	return err
}

func (ms *mysqlStore) Delete(id string) error {
	_, err := ms.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	return err
}

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS templates (
		id varchar(64) PRIMARY KEY,
		title varchar(255),
		category varchar(255),
		author varchar(255),
		active boolean,
		modified datetime,
		value longtext)`,
	}
	return execlist(tx, s)
}

func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`ALTER TABLE templates ADD INDEX templates_category (category)`,
		`ALTER TABLE templates ADD INDEX templates_author (author)`,
	}
	return execlist(tx, s)
}

// execlist execs each statement in turn, since the mysql driver does not
// handle compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
