// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the bounded in-memory session cache with
// access-ordered eviction. Eviction removes only in-memory state;
// persisted state is the registry's concern.
package cache

import (
	"sort"
	"sync"
	"time"
)

// Entry is a cached value with its bookkeeping times.
type Entry struct {
	Data           interface{}
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size        int `json:"size"`
	MaxSessions int `json:"max_sessions"`
	Hits        int `json:"hits"`
	Misses      int `json:"misses"`
	Evictions   int `json:"evictions"`
}

// EvictFunc is invoked once per evicted entry.
type EvictFunc func(sessionID string, data interface{})

// Config configures the cache.
type Config struct {
	MaxSessions int
	// EvictCount is the minimum batch size per eviction pass; evicting in
	// small batches avoids thrashing right at the limit.
	EvictCount int
	OnEvict    EvictFunc
}

// Cache is an access-ordered LRU map keyed by session id.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	maxSessions int
	evictCount  int
	onEvict     EvictFunc
	hits        int
	misses      int
	evictions   int
}

// New creates an LRU cache.
func New(cfg Config) *Cache {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.EvictCount <= 0 {
		cfg.EvictCount = 1
	}
	return &Cache{
		entries:     make(map[string]*Entry),
		maxSessions: cfg.MaxSessions,
		evictCount:  cfg.EvictCount,
		onEvict:     cfg.OnEvict,
	}
}

// Set stores data under id. An existing entry keeps its CreatedAt; only
// the data and access time change. Crossing the size limit evicts the
// least recently accessed entries.
func (c *Cache) Set(id string, data interface{}) {
	c.mu.Lock()
	now := time.Now()
	if e, ok := c.entries[id]; ok {
		e.Data = data
		e.LastAccessedAt = now
	} else {
		c.entries[id] = &Entry{Data: data, CreatedAt: now, LastAccessedAt: now}
	}
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
}

// Get returns the data for id and refreshes its access time.
func (c *Cache) Get(id string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	e.LastAccessedAt = time.Now()
	return e.Data, true
}

// Touch refreshes the access time without reading.
func (c *Cache) Touch(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.LastAccessedAt = time.Now()
	return true
}

// Has reports presence without affecting access order or counters.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Delete removes id. The eviction callback is not invoked for explicit
// deletes.
func (c *Cache) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Keys returns the cached session ids in unspecified order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for id := range c.entries {
		keys = append(keys, id)
	}
	return keys
}

// Values returns the cached data values in unspecified order.
func (c *Cache) Values() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make([]interface{}, 0, len(c.entries))
	for _, e := range c.entries {
		values = append(values, e.Data)
	}
	return values
}

// Entries returns a snapshot of id -> entry copies.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]Entry, len(c.entries))
	for id, e := range c.entries {
		snapshot[id] = *e
	}
	return snapshot
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:        len(c.entries),
		MaxSessions: c.maxSessions,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
	}
}

// SetMaxSessions changes the capacity and immediately evicts down to it.
func (c *Cache) SetMaxSessions(max int) {
	if max <= 0 {
		return
	}
	c.mu.Lock()
	c.maxSessions = max
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
}

type evictedEntry struct {
	id   string
	data interface{}
}

// evictLocked removes the oldest entries when over capacity. Must be
// called with the mutex held; returns what was removed so the callback
// can run outside the lock.
func (c *Cache) evictLocked() []evictedEntry {
	if len(c.entries) <= c.maxSessions {
		return nil
	}

	type aged struct {
		id   string
		last time.Time
	}
	byAge := make([]aged, 0, len(c.entries))
	for id, e := range c.entries {
		byAge = append(byAge, aged{id: id, last: e.LastAccessedAt})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].last.Before(byAge[j].last) })

	n := len(c.entries) - c.maxSessions
	if n < c.evictCount {
		n = c.evictCount
	}
	if n > len(byAge) {
		n = len(byAge)
	}

	evicted := make([]evictedEntry, 0, n)
	for _, a := range byAge[:n] {
		evicted = append(evicted, evictedEntry{id: a.id, data: c.entries[a.id].Data})
		delete(c.entries, a.id)
		c.evictions++
	}
	return evicted
}

func (c *Cache) notify(evicted []evictedEntry) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.id, e.data)
	}
}
