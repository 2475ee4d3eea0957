// Package cache memoises rendered HTML in Redis. Rendering is a pure function
// of the source and renderer options, so a hit is always a valid answer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"adoc2html/internal/infra/logging"
)

const (
	keyPrefix  = "adoccache:"
	opTimeout  = 1 * time.Second
	defaultTTL = 1 * time.Minute
)

// Cache is a Redis-backed render cache. A nil *Cache is a valid, disabled
// cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps rdb. Non-positive ttl falls back to one minute.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key for source rendered with the given options
// fingerprint.
func Key(fingerprint, source string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached HTML for key. Redis errors are logged and reported
// as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil, false
	}
	return val, true
}

// Set stores html under key. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, html []byte) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, html, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}

// Enabled reports whether c stores anything.
func (c *Cache) Enabled() bool { return c != nil }
