package cache

import (
	"context"
	"sync"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
)

type memoryEntry struct {
	resp      *models.IntegratedResponse
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache. Beyond maxEntries the oldest
// inserted entry is evicted, regardless of how recently it was read.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]memoryEntry
	order      []string
	now        func() time.Time
}

// NewMemoryCache creates a memory cache; non-positive arguments use the defaults
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.IntegratedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	return clone(e.resp), true
}

func (c *MemoryCache) Set(ctx context.Context, key string, resp *models.IntegratedResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	c.entries[key] = memoryEntry{resp: clone(resp), expiresAt: c.now().Add(c.ttl)}
	c.order = append(c.order, key)

	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	return nil
}

func (c *MemoryCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	c.order = nil
	return nil
}

func (c *MemoryCache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
