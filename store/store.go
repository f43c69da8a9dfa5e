// Package store provides a goroutine safe key-value interface where values
// are streams of bytes rather than opaque arrays. This lets payloads much
// larger than memory be saved and read back incrementally.
//
// The FileSystem store is the usual choice for deployment. Memory is for
// testing and S3 is for bucket-backed installs.
package store

import (
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is a stream based key-value store. Values are immutable once
// written, but a key may be deleted and then created again with new
// content.
//
// The FileSystem store uses keys as file names, so keys must not contain
// a forward slash or other forbidden filesystem characters.
//
// A value written through the WriteCloser returned by Create is not
// readable under its key until Close returns without error. This is what
// keeps partially written values from ever becoming addressable.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only half of a Store.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// NewReader adapts an io.ReaderAt into an io.Reader starting at offset 0.
// Useful for working with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return
}
