package store

import (
	"io/ioutil"
	"testing"
)

func TestPrefixStore(t *testing.T) {
	mem := NewMemory()
	ps := NewWithPrefix(mem, "md")

	w, err := ps.Create("qwerty")
	if err != nil {
		t.Fatalf("Create: %s", err.Error())
	}
	w.Write([]byte("content"))
	w.Close()

	// the underlying store sees the prefixed key
	if _, _, err := mem.Open("mdqwerty"); err != nil {
		t.Errorf("Open mdqwerty: %s", err.Error())
	}

	r, size, err := ps.Open("qwerty")
	if err != nil {
		t.Fatalf("Open: %s", err.Error())
	}
	data, _ := ioutil.ReadAll(NewReader(r))
	r.Close()
	if string(data) != "content" || size != 7 {
		t.Errorf("Got %#v size %d, expected content/7", string(data), size)
	}

	keys, _ := ps.ListPrefix("qw")
	if len(keys) != 1 || keys[0] != "qwerty" {
		t.Errorf("Got %v, expected [qwerty]", keys)
	}

	if err := ps.Delete("qwerty"); err != nil {
		t.Errorf("Delete: %s", err.Error())
	}
	if _, _, err := mem.Open("mdqwerty"); err == nil {
		t.Errorf("key still present after delete")
	}
}
