// Package tokens keeps the in-memory view of API keys and reloads it from a
// repository in the background.
package tokens

import "sync"

// Entry is the per-key policy.
type Entry struct {
	// RateLimit is requests per limiter interval; 0 disables limiting.
	RateLimit int
}

// Cache holds the current key set. It is replaced wholesale on reload.
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewCache() *Cache { return &Cache{} }

// Replace swaps in a copy of m.
func (c *Cache) Replace(m map[string]Entry) {
	next := make(map[string]Entry, len(m))
	for k, v := range m {
		next[k] = v
	}
	c.mu.Lock()
	c.m = next
	c.mu.Unlock()
}

// Ready returns true once the cache has been loaded at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

// Valid reports whether token is known.
func (c *Cache) Valid(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.m[token]
	return ok
}

// RateLimit returns the limit for token, or 0 when the token is unknown.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[token].RateLimit
}
