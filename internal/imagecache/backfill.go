package imagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backfill indexes objects that exist in storage but have no index entry,
// e.g. uploads made before the index existed. When several objects exist for
// one key the first one in name order wins. It returns the number of entries
// added.
//
// Backfill is a migration step; Lookup never scans storage.
func (s *Store) Backfill(ctx context.Context) (int, error) {
	names, err := s.storage.List(ctx, objectPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: listing objects: %w", ErrStorage, err)
	}

	added := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		key, ok := keyFromObjectName(name)
		if !ok {
			slog.Warn("Skipping object with unrecognized name", "object", name)
			continue
		}

		entry := &CachedImage{
			Key:         key,
			URL:         s.storage.URL(name),
			ObjectName:  name,
			ContentType: ContentTypeFor(name),
			CreatedAt:   s.timeSource.Now(),
		}
		err := s.index.Insert(ctx, entry)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("%w: indexing %s: %w", ErrStorage, name, err)
		}
		added++
	}

	slog.Info("Backfilled card image index", "objects", len(names), "added", added)
	return added, nil
}
