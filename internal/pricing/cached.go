package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how stale a cached price can get.
const DefaultCacheTTL = 6 * time.Hour

// Cached is a read-through Redis cache in front of another Resolver.
// Redis failures are logged and fall through to the wrapped resolver.
type Cached struct {
	next   Resolver
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Resolver = (*Cached)(nil)

// NewCached wraps next with a Redis cache.
func NewCached(next Resolver, client redis.UniversalClient, prefix string, ttl time.Duration) *Cached {
	if prefix == "" {
		prefix = "price_cache"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, client: client, prefix: prefix, ttl: ttl}
}

// Resolve returns a cached quote for q, or asks the wrapped resolver and
// caches its answer.
func (c *Cached) Resolve(ctx context.Context, q Query) (*Quote, error) {
	if c.client == nil {
		return c.next.Resolve(ctx, q)
	}

	key := c.dataKey(q)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var quote Quote
		if jsonErr := json.Unmarshal(raw, &quote); jsonErr == nil {
			return &quote, nil
		}
		slog.Warn("Discarding corrupt price cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.Warn("Price cache read failed", "key", key, "error", err)
	}

	quote, err := c.next.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, ErrNotFound
	}

	if data, jsonErr := json.Marshal(quote); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			slog.Warn("Price cache write failed", "key", key, "error", setErr)
		}
	}
	return quote, nil
}

func (c *Cached) dataKey(q Query) string {
	return c.prefix + ":" + q.Key().String()
}
