package meta

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lookupCache is a small hashed, mutex-guarded lookup cache in front of the
// meta database's user/host queries. Entries are invalidated eagerly on
// every meta-affecting write rather than aged out, so no TTL is needed.
type lookupCache struct {
	mu      sync.RWMutex
	entries map[uint64]any
	cap     int
}

func newLookupCache(capHint int) *lookupCache {
	return &lookupCache{entries: make(map[uint64]any, capHint), cap: capHint}
}

func (c *lookupCache) get(key uint64) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *lookupCache) put(key uint64, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.cap*2 {
		// Crude eviction: a growth spurt (e.g. a host-scanning client)
		// shouldn't let the cache grow unbounded between invalidations.
		c.entries = make(map[uint64]any, c.cap)
	}
	c.entries[key] = v
}

func (c *lookupCache) delete(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func cacheKeyUser(host, user, protocol string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString("u\x00")
	_, _ = d.WriteString(host)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(user)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(protocol)
	return d.Sum64()
}

func cacheKeyHost(host string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString("h\x00")
	_, _ = d.WriteString(host)
	return d.Sum64()
}
