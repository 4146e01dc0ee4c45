package imagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/card-scanner/internal/cardkey"
)

const objectPrefix = "cards/"

// IDGenerator generates unique object IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Store is the card image cache. Lookups only consult the index; uploads go
// to Storage and are then claimed in the index.
type Store struct {
	index       Index
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewStore creates a Store with default ID generator and time source
func NewStore(index Index, storage Storage) *Store {
	return NewStoreWithDeps(index, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewStoreWithDeps creates a Store with custom dependencies for testing
func NewStoreWithDeps(index Index, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Store {
	return &Store{
		index:       index,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Lookup returns the cached image for key. The boolean is false when the key
// has never been stored.
func (s *Store) Lookup(ctx context.Context, key cardkey.Key) (*CachedImage, bool, error) {
	if strings.TrimSpace(key.String()) == "" {
		return nil, false, ErrEmptyKey
	}
	entry, err := s.index.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: looking up cached image: %w", ErrStorage, err)
	}
	return entry, true, nil
}

// Put stores data for key unless an image already exists, in which case the
// existing entry is returned untouched. The boolean reports whether this call
// created the entry.
//
// Concurrent Puts for a new key may both upload; only the first index insert
// wins and the losing upload is removed again.
func (s *Store) Put(ctx context.Context, key cardkey.Key, data []byte, mimeHint string) (*CachedImage, bool, error) {
	if len(data) == 0 {
		return nil, false, ErrEmptyImage
	}

	existing, found, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return existing, false, nil
	}

	contentType := detectContentType(data, mimeHint)
	name := objectName(key, s.idGenerator.Generate(), contentType)
	if err := s.storage.Save(ctx, name, data, contentType); err != nil {
		return nil, false, fmt.Errorf("%w: saving object: %w", ErrStorage, err)
	}

	entry := &CachedImage{
		Key:         key,
		URL:         s.storage.URL(name),
		ObjectName:  name,
		ContentType: contentType,
		CreatedAt:   s.timeSource.Now(),
	}

	err = s.index.Insert(ctx, entry)
	if err == nil {
		slog.Info("Stored card image", "card_key", key, "object", name)
		return entry, true, nil
	}

	s.discard(ctx, name)
	if !errors.Is(err, ErrDuplicate) {
		return nil, false, fmt.Errorf("%w: indexing object: %w", ErrStorage, err)
	}

	winner, found, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("%w: index reported duplicate for %s but has no entry", ErrStorage, key)
	}
	return winner, false, nil
}

// discard removes an object that lost the index race or failed to index
func (s *Store) discard(ctx context.Context, name string) {
	if err := s.storage.Delete(context.WithoutCancel(ctx), name); err != nil {
		slog.Warn("Failed to delete orphaned card image", "object", name, "error", err)
	}
}

// objectName places every upload for a key under its own directory so the
// key can be recovered from the name during a backfill.
func objectName(key cardkey.Key, id, contentType string) string {
	return objectPrefix + url.QueryEscape(key.String()) + "/" + id + extensionFor(contentType)
}

// keyFromObjectName reverses objectName
func keyFromObjectName(name string) (cardkey.Key, bool) {
	rest, ok := strings.CutPrefix(name, objectPrefix)
	if !ok {
		return "", false
	}
	escaped, _, ok := strings.Cut(rest, "/")
	if !ok || escaped == "" {
		return "", false
	}
	key, err := url.QueryUnescape(escaped)
	if err != nil || key == "" {
		return "", false
	}
	return cardkey.Key(key), true
}

func detectContentType(data []byte, hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if mediaType, _, err := mime.ParseMediaType(hint); err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	return http.DetectContentType(data)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	default:
		return ".bin"
	}
}

// ContentTypeFor guesses an object's content type from its extension.
func ContentTypeFor(name string) string {
	ext := path.Ext(name)
	switch ext {
	case ".jpg":
		return "image/jpeg"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
