package cardscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zombor/card-scanner/internal/scanning"
)

// DefaultResultTTL is how long a scan result is reused for the same photo.
const DefaultResultTTL = 24 * time.Hour

// ResultCache remembers scan results by photo so a re-sent photo does not
// hit the vision and pricing providers again.
type ResultCache interface {
	Get(ctx context.Context, key string) (*ScanResult, bool, error)
	Set(ctx context.Context, key string, result *ScanResult) error
}

// ResultKey derives the cache key for a photo and game hint.
func ResultKey(imageData []byte, gameHint scanning.Game) string {
	sum := sha256.Sum256(imageData)
	return hex.EncodeToString(sum[:]) + ":" + string(gameHint)
}

// RedisResultCache is a ResultCache backed by Redis.
type RedisResultCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisResultCache creates a RedisResultCache.
func NewRedisResultCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisResultCache {
	if prefix == "" {
		prefix = "scan_result"
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisResultCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached result for key, if any.
func (c *RedisResultCache) Get(ctx context.Context, key string) (*ScanResult, bool, error) {
	if c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading scan result: %w", err)
	}

	var result ScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decoding scan result: %w", err)
	}
	return &result, true, nil
}

// Set stores result under key.
func (c *RedisResultCache) Set(ctx context.Context, key string, result *ScanResult) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding scan result: %w", err)
	}
	if err := c.client.Set(ctx, c.dataKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing scan result: %w", err)
	}
	return nil
}

func (c *RedisResultCache) dataKey(key string) string {
	return c.prefix + ":" + key
}
