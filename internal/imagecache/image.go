// Package imagecache maps canonical card keys to a single stored image.
//
// Entries are created once and never overwritten: the index only supports
// insert-if-absent, and Store.Put always looks the key up before uploading.
package imagecache

import (
	"errors"
	"time"

	"github.com/zombor/card-scanner/internal/cardkey"
)

var (
	// ErrNotFound is returned by an Index when no entry exists for a key.
	ErrNotFound = errors.New("cached image not found")
	// ErrDuplicate is returned by Index.Insert when the key is already taken.
	ErrDuplicate = errors.New("cached image already exists")
	// ErrStorage marks object store and index write failures.
	ErrStorage = errors.New("image storage failure")
	// ErrEmptyImage is returned when Put is called without image bytes.
	ErrEmptyImage = errors.New("image data is empty")
	// ErrEmptyKey is returned when a blank card key is used.
	ErrEmptyKey = errors.New("card key is empty")
)

// CachedImage associates a card key with the URL of its stored image.
type CachedImage struct {
	Key         cardkey.Key `json:"key" bson:"_id"`
	URL         string      `json:"url" bson:"url"`
	ObjectName  string      `json:"object_name" bson:"object_name"`
	ContentType string      `json:"content_type" bson:"content_type"`
	CreatedAt   time.Time   `json:"created_at" bson:"created_at"`
}
