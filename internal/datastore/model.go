// model.go: data model for collected images and tombstoned URLs
package datastore

import (
	"encoding/json"
	"time"
)

// ImageRecord represents a single collected image with its metadata.
// The source URL is globally unique across live records and tombstones.
type ImageRecord struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	Filename        string
	Path            string // full-resolution original, empty for preview-only records
	ThumbPath       string
	URL             string `gorm:"uniqueIndex:idx_images_url;not null"`
	Source          string `gorm:"not null"`
	Query           string `gorm:"not null"`
	Width           int
	Height          int
	Caption         string
	Tags            string // JSON-encoded ordered tag list
	PreviewOnly     bool
	VisionProcessed bool
	CreatedAt       time.Time `gorm:"index"`
}

// TagList decodes the JSON-encoded tag list. A malformed or empty value
// yields an empty slice rather than an error.
func (r *ImageRecord) TagList() []string {
	if r.Tags == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return []string{}
	}
	return tags
}

// SetTags encodes tags as JSON into the Tags field, preserving order.
func (r *ImageRecord) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return
	}
	r.Tags = string(encoded)
}

// BlockedURL is a tombstone for a deleted image URL. Once created it is
// never mutated and never expires, so the URL is never re-fetched.
type BlockedURL struct {
	URL       string `gorm:"primaryKey"`
	Source    string
	BlockedAt time.Time
}
