// interfaces.go: interface for the image record store
package datastore

import (
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the acquisition and inference pipelines rely on. URL uniqueness
// is enforced at the storage layer and is the final deduplication authority.
type Interface interface {
	Open() error
	Close() error

	// Save inserts a record, silently ignoring a URL uniqueness conflict.
	Save(record *ImageRecord) error
	Get(id string) (ImageRecord, error)
	GetAll() ([]ImageRecord, error)
	GetByURL(url string) (ImageRecord, error)
	URLExists(url string) (bool, error)
	CountRecords() (int64, error)

	// UpdateAnalysis overwrites caption and tags and marks the record
	// vision-processed. Re-analysis may overwrite earlier results.
	UpdateAnalysis(id, caption string, tags []string) error
	UpdateCaption(id, caption string) error
	UpdateTags(id string, tags []string) error

	// Delete removes a record and tombstones its URL in one transaction,
	// returning the removed record so the caller can clean up files.
	Delete(id string) (ImageRecord, error)

	// AllURLs returns every URL known to the system, live and tombstoned,
	// for rebuilding the in-memory dedup index at startup.
	AllURLs() ([]string, error)
	AllBlocked() ([]BlockedURL, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a store for the given sqlite database path.
func New(path string) Interface {
	return &SQLiteStore{Path: path}
}
