/*
Package blobs implements a chunked binary object store on top of a
store.Store. A payload of any size is saved as a sequence of bounded-size
content chunks plus a small JSON metadata record, so nothing requires the
whole payload resident in memory at once.

A blob is addressable only once its metadata record has been saved, which
happens after every chunk is safely stored. If a write is interrupted the
already-written chunks are removed and no identifier is returned, so a
partial blob is never reachable. Deletes are idempotent: removing an
unknown or already-deleted identifier is not an error, letting callers
retry cleanup safely.
*/
package blobs

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/crafthub/plantilla/store"
	"github.com/crafthub/plantilla/util"
)

const (
	// There are two kinds of keys in the underlying store: blob metadata
	// records and content chunks. They are distinguished by key prefix.
	metaKeyPrefix  = "md"
	chunkKeyPrefix = "c"

	// DefaultChunkSize is the content chunk size used unless the Store's
	// ChunkSize field says otherwise.
	DefaultChunkSize = 8 * 1024 * 1024
)

// ErrNotFound is returned when a blob identifier is unknown or has been
// deleted.
var ErrNotFound = errors.New("unknown blob")

// Store is a chunked blob store. Create one with New and call Load before
// use. Methods are safe for concurrent use.
type Store struct {
	// ChunkSize is the maximum size of a content chunk. Zero means
	// DefaultChunkSize. Do not change it after the first Put.
	ChunkSize int64

	meta   jsonStore   // blob metadata records
	cstore store.Store // content chunks
	m      sync.RWMutex
	blobs  map[string]*record
}

// Info is the metadata kept alongside each blob.
type Info struct {
	ID          string
	Size        int64
	ContentType string
	Tag         string
	MD5         string // hex fingerprint of the content
	NChunks     int
	Created     time.Time
}

// the persisted metadata record for one blob
type record struct {
	ID          string
	Size        int64
	ContentType string
	Tag         string
	MD5         string
	Chunks      []chunk // in read order
	Created     time.Time
}

// one content chunk of a blob
type chunk struct {
	Key  string
	Size int64
}

// New creates a blob store wrapping s. Call Load() before using it.
func New(s store.Store) *Store {
	return &Store{
		meta:   newJSONStore(store.NewWithPrefix(s, metaKeyPrefix)),
		cstore: store.NewWithPrefix(s, chunkKeyPrefix),
		blobs:  make(map[string]*record),
	}
}

// Load initializes the in-memory index from the metadata records in the
// underlying store. Must be called before using the store.
func (s *Store) Load() error {
	keys, err := s.meta.ListPrefix("")
	if err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for _, key := range keys {
		rec := new(record)
		err := s.meta.Open(key, rec)
		if err != nil {
			// skip unreadable records rather than refusing to start
			log.Println("blobs: skipping", key, err)
			continue
		}
		s.blobs[rec.ID] = rec
	}
	return nil
}

// List returns the identifiers of every stored blob.
func (s *Store) List() []string {
	s.m.RLock()
	defer s.m.RUnlock()
	result := make([]string, 0, len(s.blobs))
	for id := range s.blobs {
		result = append(result, id)
	}
	return result
}

// Put consumes r to completion and stores its content under a newly
// minted identifier, along with the given content type and tag. The
// content is written in ChunkSize pieces as it is read. On any failure
// the chunks written so far are removed and no identifier is returned.
func (s *Store) Put(r io.Reader, contentType, tag string) (string, error) {
	id := s.mintID()
	chunksize := s.ChunkSize
	if chunksize <= 0 {
		chunksize = DefaultChunkSize
	}
	hw := util.NewMD5Writer(ioutil.Discard)
	tee := io.TeeReader(r, hw)

	rec := &record{
		ID:          id,
		ContentType: contentType,
		Tag:         tag,
		Created:     time.Now(),
	}
	for i := 0; ; i++ {
		key := chunkKey(id, i)
		w, err := s.cstore.Create(key)
		if err != nil {
			s.removeChunks(rec.Chunks)
			return "", pkgerrors.Wrap(err, "blob chunk create")
		}
		n, cerr := io.CopyN(w, tee, chunksize)
		werr := w.Close()
		if n > 0 || i == 0 {
			rec.Chunks = append(rec.Chunks, chunk{Key: key, Size: n})
			rec.Size += n
		} else {
			// an empty trailing chunk, drop it
			s.cstore.Delete(key)
		}
		if cerr != nil && cerr != io.EOF {
			s.removeChunks(rec.Chunks)
			return "", pkgerrors.Wrap(cerr, "blob content read")
		}
		if werr != nil {
			s.removeChunks(rec.Chunks)
			return "", pkgerrors.Wrap(werr, "blob chunk write")
		}
		if cerr == io.EOF {
			break
		}
	}
	rec.MD5 = fmt.Sprintf("%x", hw.Sum())

	// the blob becomes addressable only now
	if err := s.meta.Save(id, rec); err != nil {
		s.removeChunks(rec.Chunks)
		return "", pkgerrors.Wrap(err, "blob metadata save")
	}
	s.m.Lock()
	s.blobs[id] = rec
	s.m.Unlock()
	return id, nil
}

// removeChunks is the cleanup path of a failed Put. Errors are logged and
// otherwise ignored since the original failure is what the caller needs.
func (s *Store) removeChunks(chunks []chunk) {
	for _, c := range chunks {
		if err := s.cstore.Delete(c.Key); err != nil {
			log.Println("blobs: cleanup", c.Key, err)
		}
	}
}

// Open returns a reader over the exact bytes stored under id, in their
// original order regardless of chunk boundaries, along with the total
// size. ErrNotFound is returned for an unknown or deleted identifier.
func (s *Store) Open(id string) (io.ReadCloser, int64, error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, 0, ErrNotFound
	}
	keys := make([]string, len(rec.Chunks))
	for i := range rec.Chunks {
		keys[i] = rec.Chunks[i].Key
	}
	return &chunkReader{s: s.cstore, keys: keys}, rec.Size, nil
}

// Info returns the metadata stored alongside the blob id.
func (s *Store) Info(id string) (Info, error) {
	rec := s.lookup(id)
	if rec == nil {
		return Info{}, ErrNotFound
	}
	return Info{
		ID:          rec.ID,
		Size:        rec.Size,
		ContentType: rec.ContentType,
		Tag:         rec.Tag,
		MD5:         rec.MD5,
		NChunks:     len(rec.Chunks),
		Created:     rec.Created,
	}, nil
}

// ContentType returns the content type recorded for the blob id.
func (s *Store) ContentType(id string) (string, error) {
	rec := s.lookup(id)
	if rec == nil {
		return "", ErrNotFound
	}
	return rec.ContentType, nil
}

// Delete removes the blob id and its chunks. Deleting an unknown or
// already-deleted identifier is not an error. The metadata record is
// removed first, so a failure partway leaves unreferenced chunks rather
// than a blob missing content.
func (s *Store) Delete(id string) error {
	s.m.Lock()
	rec := s.blobs[id]
	delete(s.blobs, id)
	s.m.Unlock()
	if rec == nil {
		return nil
	}
	err := s.meta.Delete(id)
	for _, c := range rec.Chunks {
		er := s.cstore.Delete(c.Key)
		if err == nil {
			err = er
		}
	}
	return pkgerrors.Wrap(err, "blob delete")
}

func (s *Store) lookup(id string) *record {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.blobs[id]
}

// mintID returns an identifier not currently in use.
func (s *Store) mintID() string {
	s.m.RLock()
	defer s.m.RUnlock()
	for {
		id := randomid()
		if _, ok := s.blobs[id]; !ok {
			return id
		}
	}
}

func chunkKey(id string, n int) string {
	return fmt.Sprintf("%s+%04d", id, n)
}

func randomid() string {
	return strconv.FormatInt(rand.Int63(), 36)
}

func init() {
	rand.Seed(time.Now().UnixNano())
}

// chunkReader is an io.Reader spanning a list of chunk keys. Chunks are
// opened and closed one at a time, so at most one is open at any moment.
type chunkReader struct {
	s    store.Store
	keys []string           // next to open is at index 0
	r    store.ReadAtCloser // nil when no chunk is open
	off  int64              // read offset into r
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	for len(cr.keys) > 0 || cr.r != nil {
		var err error
		if cr.r == nil {
			cr.r, _, err = cr.s.Open(cr.keys[0])
			if err != nil {
				return 0, pkgerrors.Wrap(err, "blob chunk open")
			}
			cr.off = 0
			cr.keys = cr.keys[1:]
		}
		n, err := cr.r.ReadAt(p, cr.off)
		cr.off += int64(n)
		if err == io.EOF {
			// check the remaining chunks before reporting EOF
			err = cr.r.Close()
			cr.r = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.EOF
}

func (cr *chunkReader) Close() error {
	if cr.r != nil {
		err := cr.r.Close()
		cr.r = nil
		return err
	}
	return nil
}
