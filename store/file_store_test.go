package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestSubdir(t *testing.T) {
	var table = []struct{ input, output string }{
		{"x", "x/"},
		{"xy", "xy/"},
		{"xyz", "xy/z/"},
		{"wxyz", "wx/yz/"},
		{"vwxyz", "vw/xy/"},
		{"b930agg8z", "b9/30/"},
	}
	for _, s := range table {
		result := subdir(s.input)
		if result != s.output {
			t.Errorf("Got %s, expected %s", result, s.output)
		}
	}
}

func TestFileSystemRoundtrip(t *testing.T) {
	dir, _ := ioutil.TempDir("", "plantilla-fs")
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)

	w, err := s.Create("abcd0001")
	if err != nil {
		t.Fatalf("Create: %s", err.Error())
	}
	w.Write([]byte("hello "))

	// nothing is addressable under the key until Close
	if _, _, err := s.Open("abcd0001"); err == nil {
		t.Errorf("Open succeeded on a half written key")
	}

	w.Write([]byte("world"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	r, size, err := s.Open("abcd0001")
	if err != nil {
		t.Fatalf("Open: %s", err.Error())
	}
	if size != 11 {
		t.Errorf("Got size %d, expected 11", size)
	}
	data, _ := ioutil.ReadAll(NewReader(r))
	r.Close()
	if string(data) != "hello world" {
		t.Errorf("Got %#v, expected %#v", string(data), "hello world")
	}

	// duplicate keys are refused
	if _, err := s.Create("abcd0001"); err != ErrKeyExists {
		t.Errorf("Got %v, expected ErrKeyExists", err)
	}

	// delete is idempotent
	if err := s.Delete("abcd0001"); err != nil {
		t.Errorf("Delete: %s", err.Error())
	}
	if err := s.Delete("abcd0001"); err != nil {
		t.Errorf("second Delete: %s", err.Error())
	}
	if _, _, err := s.Open("abcd0001"); err == nil {
		t.Errorf("Open succeeded after delete")
	}
}

func TestFileSystemList(t *testing.T) {
	dir, _ := ioutil.TempDir("", "plantilla-fs")
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)

	keys := []string{"abcd0001", "abcd0002", "abce0001", "zxcv0001"}
	for _, key := range keys {
		w, err := s.Create(key)
		if err != nil {
			t.Fatalf("Create %s: %s", key, err.Error())
		}
		w.Write([]byte(key))
		w.Close()
	}
	// a half written file should not be listed
	w, _ := s.Create("inflight1")
	defer w.Close()

	var result []string
	for key := range s.List() {
		result = append(result, key)
	}
	if len(result) != len(keys) {
		t.Errorf("Got %v, expected %v", result, keys)
	}

	prefixed, err := s.ListPrefix("abcd")
	if err != nil {
		t.Fatalf("ListPrefix: %s", err.Error())
	}
	if len(prefixed) != 2 {
		t.Errorf("Got %v, expected 2 abcd keys", prefixed)
	}
}

func TestBadKeys(t *testing.T) {
	dir, _ := ioutil.TempDir("", "plantilla-fs")
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	for _, key := range []string{"a/b", "a b", "a\tb", "a\x00b"} {
		if _, err := s.Create(key); err != ErrBadKey {
			t.Errorf("Create %q: got %v, expected ErrBadKey", key, err)
		}
	}
	// make sure nothing leaked into the tree
	entries, _ := ioutil.ReadDir(filepath.Join(dir))
	if len(entries) != 0 {
		t.Errorf("Got %v, expected an empty root", entries)
	}
}
