package behaviorsdk

import (
	"sync"
	"time"
)

// ──────────────────────────────────────────────
// Cache — explicit TTL cache, injected rather than ambient
// ──────────────────────────────────────────────

// Cache is the read-side cache abstraction the engine is handed explicitly.
// It replaces the host product's ambient global cache layer.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Invalidate(key string)
}

type cacheEntry struct {
	value interface{}
	ts    time.Time
}

// TTLCache is a thread-safe in-memory Cache with per-entry expiry.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewTTLCache creates a cache. ttl <= 0 defaults to 5 seconds; assessment
// and directive reads are cheap to rebuild, staleness is the real cost.
func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &TTLCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup()
	c.entries[key] = &cacheEntry{value: value, ts: time.Now()}
}

func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache) cleanup() {
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.ts) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// nopCache disables caching without nil checks at call sites.
type nopCache struct{}

func (nopCache) Get(string) (interface{}, bool) { return nil, false }
func (nopCache) Set(string, interface{})        {}
func (nopCache) Invalidate(string)              {}

var (
	_ Cache = (*TTLCache)(nil)
	_ Cache = nopCache{}
)
