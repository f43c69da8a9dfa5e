package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem is a Store keeping each value as a file under a root
// directory. Files are spread over a two-level directory tree derived from
// the key so no single directory grows too large. New values are written
// into a scratch directory and renamed into place on Close, so a reader
// never sees a partially written file under its key.
type FileSystem struct {
	root string
}

// the subdirectory files are staged in while being written.
const scratchdir = "scratch"

var (
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrBadKey means the key contains a slash, whitespace, or a control
	// character, none of which can be used in a file name safely.
	ErrBadKey = errors.New("key contains forbidden characters")
)

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel enumerating every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		walk(c, s.root, 0)
	}()
	return c
}

// walk descends at most two directory levels below root and emits the
// file names found at the bottom level. Only directories are opened and
// files stat'ed, in case the root lives on slow media.
func walk(out chan<- string, root string, level int) {
	f, err := os.Open(root)
	if err != nil {
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return
		} else if err != nil {
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				if level < 2 && e.Name() != scratchdir {
					walk(out, filepath.Join(root, e.Name()), level+1)
				}
				continue
			}
			if level == 2 {
				out <- e.Name()
			}
		}
	}
}

// ListPrefix returns every key beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var result []string
	for key := range s.List() {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	return result, nil
}

// Open returns a reader for the value stored under key, along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := validKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, subdir(key), key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer saving a new value under key. The value appears
// in the store when the writer is closed without error.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	target, err := s.mksubdir(subdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.mksubdir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so a concurrent create of the same key fails instead of
	// interleaving writes
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: temp, target: target}, nil
}

// mksubdir ensures root/dir exists and returns the path root/dir/key.
func (s *FileSystem) mksubdir(dir, key string) (string, error) {
	d := filepath.Join(s.root, dir)
	err := os.MkdirAll(d, 0775)
	return filepath.Join(d, key), err
}

// moveCloser renames the scratch file into its final home on Close.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	if _, err := os.Stat(w.target); !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete removes the value stored under key. It is not an error to delete
// a key which does not exist.
func (s *FileSystem) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, subdir(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	if err != nil {
		raven.CaptureError(err, nil)
	}
	return err
}

// subdir returns the two-level directory a key's file lives in,
// e.g. "abcd123" gives "ab/cd/".
func subdir(key string) string {
	switch len(key) {
	case 0:
		return "./"
	case 1, 2:
		return key + "/"
	case 3:
		return key[0:2] + "/" + key[2:3] + "/"
	}
	return key[0:2] + "/" + key[2:4] + "/"
}

func validKey(key string) error {
	if !utf8.ValidString(key) || strings.Contains(key, "/") {
		return ErrBadKey
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrBadKey
		}
	}
	return nil
}
