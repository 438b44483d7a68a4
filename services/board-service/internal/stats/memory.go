package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the single-instance backend. Its clock is a field so tests
// drive TTL expiry without sleeping.
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	index   map[string]map[string]struct{} // day -> keys covering it
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		now:     time.Now,
		entries: map[string]memoryEntry{},
		index:   map[string]map[string]struct{}{},
	}
}

// SetClock replaces the cache clock; tests only.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration, coverage []time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	for _, day := range coverage {
		idx := indexKey(day)
		if c.index[idx] == nil {
			c.index[idx] = map[string]struct{}{}
		}
		c.index[idx][key] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, days ...time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, day := range days {
		idx := indexKey(day)
		for key := range c.index[idx] {
			delete(c.entries, key)
		}
		delete(c.index, idx)
	}
	return nil
}
