package imagegate

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Fingerprint returns the deterministic cache/dedup key for a sanitized
// prompt.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Cache maps prompt fingerprints to previously generated images with a
// fixed TTL. Expired entries are treated as absent and removed lazily on
// read. When the capacity bound is hit, the entry closest to expiry is
// evicted.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]cacheEntry
	now      func() time.Time
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCache creates a Cache with the given TTL and capacity. A capacity of
// zero or less means unbounded.
func NewCache(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Lookup returns the cached image for fp, or false if absent or expired.
func (c *Cache) Lookup(fp string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, fp)
		return nil, false
	}
	return e.data, true
}

// Store caches an image under fp, unconditionally overwriting any existing
// entry for that fingerprint.
func (c *Cache) Store(fp string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fp]; !exists && c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[fp] = cacheEntry{data: data, expiresAt: c.now().Add(c.ttl)}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then if still full removes the entry
// with the soonest expiry. Must be called with mu held.
func (c *Cache) evictLocked() {
	now := c.now()
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
		}
	}
	if len(c.entries) < c.capacity {
		return
	}

	var victim string
	var soonest time.Time
	for fp, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = fp
			soonest = e.expiresAt
		}
	}
	delete(c.entries, victim)
}
