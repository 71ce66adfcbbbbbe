package fetch

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched page stays fresh.
const DefaultCacheTTL = 15 * time.Minute

// Cache is an in-memory TTL page cache. It is injected into a Client
// rather than held as package state, so different crawl runs can share
// or isolate cached pages explicitly.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	// now is swapped in tests.
	now func() time.Time
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// NewCache creates a Cache. A non-positive ttl uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached result for a URL if it is still within the TTL.
func (c *Cache) Get(url string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, url)
		return nil, false
	}
	result := entry.result
	return &result, true
}

// Put stores a fetch result for a URL, replacing any previous entry.
func (c *Cache) Put(url string, r *Result) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{result: *r, storedAt: c.now()}
}

// Invalidate drops the cached entry for a URL, forcing a fresh fetch.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

// Len reports the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
