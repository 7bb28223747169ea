// Package cache provides the in-memory TTL cache and the in-flight request
// coalescer backing the market data service.
package cache

import (
	"sync"
	"time"
)

// Entry pairs a cached value with the instant it was last refreshed from
// upstream. LastUpdatedAt is set only by Put; it is never invented.
type Entry[V any] struct {
	Value         V
	LastUpdatedAt time.Time
}

// Cache is a keyed TTL store. TTL is resolved per Get call so a single cache
// can hold entries with different freshness windows (chart data keyed by
// timeframe). Entries are never evicted, only overwritten: at the catalog
// sizes involved (hundreds to low thousands of keys) unbounded growth is an
// accepted scaling boundary, not an oversight.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	now     func() time.Time
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return NewWithClock[K, V](time.Now)
}

// NewWithClock creates a cache with an injectable clock.
func NewWithClock[K comparable, V any](now func() time.Time) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]Entry[V]),
		now:     now,
	}
}

// Get returns the cached value only while it is fresh: a stale entry is a
// miss, never returned.
func (c *Cache[K, V]) Get(key K, ttl time.Duration) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.LastUpdatedAt) >= ttl {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Put overwrites the entry for key, timestamping it with the current time.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Value: value, LastUpdatedAt: c.now()}
}

// Delete removes the entry for key, if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
