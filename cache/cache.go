// Package cache provides a TTL result cache for capability invocations. Two
// requests researching the same lead within the TTL reuse the earlier stage
// result instead of re-invoking an agent. A zero TTL disables caching.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/statdevs/leadmesh/core"
)

type entry struct {
	result  core.Result
	expires time.Time
}

// Cache is a process-local TTL cache keyed by (capability, lead fingerprint).
// Safe for concurrent access.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry

	// now is swappable for tests.
	now func() time.Time
}

// New creates a cache with the given TTL. ttl <= 0 yields a disabled cache
// on which Get always misses.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c != nil && c.ttl > 0 }

func key(capability core.Capability, lead core.Lead) string {
	return strings.Join([]string{
		string(capability),
		strings.ToLower(lead.CompanyName),
		strings.ToLower(lead.PersonName),
		strings.ToLower(lead.WebsiteURL),
	}, "|")
}

// Get returns a previously stored, unexpired result for the capability/lead
// pair. The returned result is marked Cached.
func (c *Cache) Get(capability core.Capability, lead core.Lead) (core.Result, bool) {
	if !c.Enabled() {
		return core.Result{}, false
	}
	k := key(capability, lead)
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return core.Result{}, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// Recheck under the write lock; another writer may have refreshed it.
		if cur, still := c.entries[k]; still && c.now().After(cur.expires) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return core.Result{}, false
	}
	res := e.result
	res.Cached = true
	return res, true
}

// Put stores a successful stage result. Skipped results are not cached.
func (c *Cache) Put(capability core.Capability, lead core.Lead, res core.Result) {
	if !c.Enabled() || res.Skipped {
		return
	}
	c.mu.Lock()
	c.entries[key(capability, lead)] = entry{result: res, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
