package lookup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is a bounded LRU profile cache with TTL expiration. Stored
// profiles are shared between readers and must not be mutated.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type memoryEntry struct {
	profile   *Profile
	createdAt time.Time
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache holding at most maxEntries profiles for
// ttl each.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &MemoryCache{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached profile or nil on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) (*Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil, nil
	}
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return e.profile, nil
}

// Set stores p, evicting the least recently used entry at capacity.
func (c *MemoryCache) Set(_ context.Context, key string, p *Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	} else {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = &memoryEntry{profile: p, createdAt: c.now()}
	c.order = append(c.order, key)
	return nil
}

// Stats returns hit and miss counters.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
