// Package async provides the process-local concurrency primitives:
// a TTL+LRU result cache and an order-preserving bounded executor.
package async

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheStats exposes hit/miss/eviction counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cacheEntry struct {
	value  any
	expiry time.Time
}

// Cache is a TTL cache with LRU eviction at capacity.
// All operations are serialized by a single mutex; the expected load
// is one lookup per tool invocation, not a hot path.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	stats CacheStats

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewCache creates a cache holding up to size entries with the given
// default TTL.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	c := &Cache{ttl: ttl, now: time.Now}

	inner, err := lru.NewWithEvict[string, cacheEntry](size, func(string, cacheEntry) {
		// Callback runs under c.mu: every Add/Remove happens inside it.
		c.stats.Evictions++
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner

	return c, nil
}

// Get returns the cached value, or ok=false on miss or expiry.
// Expired entries are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.now().After(entry.expiry) {
		c.lru.Remove(key)
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return entry.value, true
}

// Set stores a value under the default TTL, evicting the
// least-recently-used entry when at capacity.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, cacheEntry{value: value, expiry: c.now().Add(ttl)})
}

// Len returns the number of live entries (including not-yet-collected
// expired ones).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Purge drops every entry. Purged entries count as evictions.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
