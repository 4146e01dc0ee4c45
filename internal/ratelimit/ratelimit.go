// Package ratelimit caps scan requests per user with a fixed window counter
// held in Redis, so every instance of the service sees the same count.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned (wrapped) by callers that reject a request
// because the user used up the current window.
var ErrQuotaExceeded = errors.New("scan quota exceeded")

const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Policy describes how many requests are admitted per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy admits 5 scans per user per minute.
func DefaultPolicy() Policy {
	return Policy{Limit: DefaultLimit, Window: DefaultWindow}
}

// Decision is the result of a single admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// Limiter admits or rejects requests for a user identity.
type Limiter interface {
	Admit(ctx context.Context, userID string) (Decision, error)
}

// KEYS[1] = window key, ARGV[1] = window in ms.
// Returns {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a fixed window limiter backed by a Redis counter per user.
type Redis struct {
	client redis.UniversalClient
	prefix string
	policy Policy
	now    func() time.Time
}

// NewRedis creates a Redis backed limiter. A zero policy falls back to
// DefaultPolicy.
func NewRedis(client redis.UniversalClient, prefix string, policy Policy) *Redis {
	if prefix == "" {
		prefix = "scan_rl"
	}
	if policy.Limit <= 0 {
		policy.Limit = DefaultLimit
	}
	if policy.Window <= 0 {
		policy.Window = DefaultWindow
	}
	return &Redis{
		client: client,
		prefix: prefix,
		policy: policy,
		now:    time.Now,
	}
}

// Admit counts one request for userID and reports whether it fits in the
// current window.
func (l *Redis) Admit(ctx context.Context, userID string) (Decision, error) {
	if l.client == nil {
		return Decision{}, errors.New("redis client is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}

	windowMS := l.policy.Window.Milliseconds()
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(userID)}, windowMS).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script response %T", raw)
	}
	count, err := parseRedisInt64(values[0])
	if err != nil {
		return Decision{}, err
	}
	ttlMS, err := parseRedisInt64(values[1])
	if err != nil {
		return Decision{}, err
	}
	if ttlMS <= 0 {
		ttlMS = 1
	}

	ttl := time.Duration(ttlMS) * time.Millisecond
	decision := Decision{
		Allowed:   count <= int64(l.policy.Limit),
		Remaining: int(max(int64(l.policy.Limit)-count, 0)),
		ResetAt:   l.now().Add(ttl),
	}
	if !decision.Allowed {
		decision.RetryAfter = ttl
	}
	return decision, nil
}

func (l *Redis) key(userID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, userID)
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
