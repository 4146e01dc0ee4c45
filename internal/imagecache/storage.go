package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Storage defines the object store holding the image bytes
type Storage interface {
	// Save writes data under name
	Save(ctx context.Context, name string, data []byte, contentType string) error

	// Get retrieves the object stored under name
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes an object
	Delete(ctx context.Context, name string) error

	// List returns every object name starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// URL returns the public URL for an object
	URL(name string) string
}

// LocalStorage implements Storage on the local filesystem. Objects are
// served by the HTTP server under /images/.
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath. publicURL is
// the externally reachable base URL of this service.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// fullPath confines name to basePath
func (l *LocalStorage) fullPath(name string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(path.Clean("/"+name)))
}

// Save saves a file to local storage
func (l *LocalStorage) Save(_ context.Context, name string, data []byte, _ string) error {
	fullPath := l.fullPath(name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.fullPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(_ context.Context, name string) error {
	if err := os.Remove(l.fullPath(name)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List walks the storage directory and returns slash separated names
func (l *LocalStorage) List(_ context.Context, prefix string) ([]string, error) {
	names := make([]string, 0)
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// URL returns the URL under which the server exposes name
func (l *LocalStorage) URL(name string) string {
	return l.publicURL + "/images/" + escapePath(name)
}

// escapePath escapes each segment of an object name for use in a URL
func escapePath(name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
