// Package catalog holds the descriptive record for a purchasable
// template and the store interface over those records. A record may
// reference up to two blobs, a preview image and the template file
// itself, which live in the blob store and are kept consistent with the
// record by the templates package.
package catalog

import (
	"errors"
	"math/rand"
	"strconv"
	"time"
)

// ErrNotFound is returned when a record identifier is unknown.
var ErrNotFound = errors.New("unknown template")

// Template is one catalog record.
type Template struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Purpose     string  `json:"purpose"`
	Price       float64 `json:"price"`
	Author      string  `json:"author"`
	AuthorID    string  `json:"authorId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string  `json:"category,omitempty"`

	// blob references. Either may be empty on legacy records, but every
	// non-empty reference must resolve in the blob store.
	ImageBlob string `json:"imageBlobId,omitempty"`
	FileBlob  string `json:"fileBlobId,omitempty"`

	FileName   string `json:"fileName,omitempty"`
	FileFormat string `json:"fileFormat,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`

	Rating           int       `json:"rating"`
	DownloadCount    int       `json:"downloadCount"`
	IsActive         bool      `json:"isActive"`
	TutorialVideoURL string    `json:"tutorialVideoUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store is the record store consumed by the templates package and the
// read side of the REST API.
type Store interface {
	// FindByID returns the record with the given id, or ErrNotFound.
	FindByID(id string) (*Template, error)

	// FindAllActive returns every record with IsActive set.
	FindAllActive() ([]*Template, error)

	// FindAll returns every record, active or not.
	FindAll() ([]*Template, error)

	// FindByTitle returns the records whose title contains the given
	// string, compared case-insensitively.
	FindByTitle(q string) ([]*Template, error)

	// FindByCategory returns the records in the given category.
	FindByCategory(category string) ([]*Template, error)

	// FindByAuthor returns the records credited to the given author.
	FindByAuthor(author string) ([]*Template, error)

	// Save persists the record, minting an id if it has none.
	Save(t *Template) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(id string) error
}

// mintID returns a fresh record identifier.
func mintID() string {
	return strconv.FormatInt(rand.Int63(), 36)
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
