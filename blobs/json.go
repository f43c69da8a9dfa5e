package blobs

import (
	"encoding/json"
	"log"

	"github.com/crafthub/plantilla/store"
)

// A jsonStore wraps a store.Store and saves values as JSON documents
// instead of raw streams. Results are not cached; every Open hits the
// underlying store.
type jsonStore struct {
	store.Store
}

func newJSONStore(s store.Store) jsonStore {
	return jsonStore{s}
}

// Open reads the value stored under key and unmarshals it into value.
func (js jsonStore) Open(key string, value interface{}) error {
	r, _, err := js.Store.Open(key)
	if err != nil {
		return err
	}
	err = json.NewDecoder(store.NewReader(r)).Decode(value)
	err2 := r.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(key, err2)
	}
	return err
}

// Save stores value under key as JSON, replacing any previous value.
func (js jsonStore) Save(key string, value interface{}) error {
	err := js.Delete(key)
	if err != nil {
		return err
	}
	w, err := js.Store.Create(key)
	if err != nil {
		return err
	}
	err = json.NewEncoder(w).Encode(value)
	err2 := w.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(key, err2)
	}
	return err
}
