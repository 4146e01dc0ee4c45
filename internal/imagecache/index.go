package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/card-scanner/internal/cardkey"
)

const bucketName = "card_images"

// Index is the fast lookup table from card key to cached image.
type Index interface {
	// Get returns the entry for key or ErrNotFound
	Get(ctx context.Context, key cardkey.Key) (*CachedImage, error)

	// Insert stores entry unless its key already exists, in which case it
	// returns ErrDuplicate and leaves the existing entry untouched
	Insert(ctx context.Context, entry *CachedImage) error

	// Close releases the underlying connection
	Close() error
}

// BoltIndex implements Index on a local BoltDB file. It is meant for single
// node deployments; use MongoIndex when several instances share the cache.
type BoltIndex struct {
	db *bbolt.DB
}

// NewBoltIndex opens (or creates) the BoltDB file at path
func NewBoltIndex(path string) (*BoltIndex, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltIndex{db: db}, nil
}

// Get retrieves the cached image for key
func (b *BoltIndex) Get(_ context.Context, key cardkey.Key) (*CachedImage, error) {
	var entry *CachedImage
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Insert saves entry if no entry exists for its key. The check and the write
// happen in one bolt transaction.
func (b *BoltIndex) Insert(_ context.Context, entry *CachedImage) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(entry.Key)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicate, entry.Key)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling cached image: %w", err)
		}
		return bucket.Put([]byte(entry.Key), data)
	})
}

// Count returns the number of indexed keys
func (b *BoltIndex) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database
func (b *BoltIndex) Close() error {
	return b.db.Close()
}
