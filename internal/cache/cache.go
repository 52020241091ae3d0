/*

This file contains the in-memory TTL cache shared by the oracle, analytics
and pool-state readers. Entries are stored whole and replaced whole, so a
concurrent reader either sees the previous payload or the new one, never a
partial write.

*/

package cache

import (
	"sync"
	"time"
)

// Default TTLs per data class. Price moves fastest, program-level aggregates
// slowest.
const (
	PriceTTL     = 15 * time.Second
	PoolStatsTTL = 30 * time.Second
	AnalyticsTTL = 60 * time.Second
)

type entry struct {
	payload  any
	storedAt time.Time
	ttl      time.Duration
}

// DataCache is a concurrency-safe TTL cache keyed by string. A zero TTL means
// the entry never expires.
type DataCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New returns an empty DataCache.
func New() *DataCache {
	return &DataCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Set stores a payload under key with the given ttl, replacing any previous
// entry atomically.
func (c *DataCache) Set(key string, payload any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Get returns the payload for key if present and still fresh. An expired
// entry is treated as a miss.
func (c *DataCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.ttl > 0 && c.now().Sub(e.storedAt) > e.ttl {
		return nil, false
	}
	return e.payload, true
}

// GetStale returns the payload for key regardless of freshness, along with
// when it was stored. Callers that have a safe fallback policy (the price
// circuit breaker) use this path explicitly.
func (c *DataCache) GetStale(key string) (any, time.Time, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false
	}
	return e.payload, e.storedAt, true
}

// Invalidate drops the entry for key if present.
func (c *DataCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *DataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup fetches a fresh entry and type-asserts it to T. A nil cache or a
// payload of the wrong type counts as a miss.
func Lookup[T any](c *DataCache, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
