// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New(Config{MaxSessions: 10})

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.MaxSessions)
}

func TestCache_SetPreservesCreatedAt(t *testing.T) {
	c := New(Config{MaxSessions: 10})

	c.Set("a", 1)
	first := c.Entries()["a"]

	time.Sleep(5 * time.Millisecond)
	c.Set("a", 2)
	second := c.Entries()["a"]

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastAccessedAt.After(first.LastAccessedAt))
	assert.Equal(t, 2, second.Data)
}

// Eviction removes exactly the least recently accessed entries.
func TestCache_EvictsOldestAccessed(t *testing.T) {
	var evicted []string
	c := New(Config{
		MaxSessions: 3,
		OnEvict:     func(id string, _ interface{}) { evicted = append(evicted, id) },
	})

	for _, id := range []string{"a", "b", "c"} {
		c.Set(id, id)
		time.Sleep(2 * time.Millisecond)
	}
	// Refresh "a" so "b" becomes the oldest.
	c.Get("a")
	time.Sleep(2 * time.Millisecond)

	c.Set("d", "d")

	require.Equal(t, []string{"b"}, evicted)
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))
	assert.Equal(t, 1, c.Stats().Evictions)
}

func TestCache_EvictCountBatch(t *testing.T) {
	c := New(Config{MaxSessions: 3, EvictCount: 2})

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		time.Sleep(2 * time.Millisecond)
	}

	// Crossing the limit evicts max(size-max, evictCount) = 2 oldest.
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Has("k0"))
	assert.False(t, c.Has("k1"))
	assert.True(t, c.Has("k2"))
	assert.True(t, c.Has("k3"))
}

func TestCache_SetMaxSessionsEvictsImmediately(t *testing.T) {
	var evicted []string
	c := New(Config{
		MaxSessions: 10,
		OnEvict:     func(id string, _ interface{}) { evicted = append(evicted, id) },
	})
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		time.Sleep(2 * time.Millisecond)
	}

	c.SetMaxSessions(2)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"k0", "k1", "k2"}, evicted)
	assert.True(t, c.Has("k3"))
	assert.True(t, c.Has("k4"))
}

func TestCache_TouchRefreshesWithoutReading(t *testing.T) {
	c := New(Config{MaxSessions: 2})

	c.Set("a", 1)
	time.Sleep(2 * time.Millisecond)
	c.Set("b", 2)
	time.Sleep(2 * time.Millisecond)

	require.True(t, c.Touch("a"))
	time.Sleep(2 * time.Millisecond)
	c.Set("c", 3)

	// "b" was oldest after the touch.
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("a"))
	assert.False(t, c.Touch("missing"))
	// Touch does not count as a hit.
	assert.Equal(t, 0, c.Stats().Hits)
}

func TestCache_DeleteAndClear(t *testing.T) {
	var evictions int
	c := New(Config{MaxSessions: 10, OnEvict: func(string, interface{}) { evictions++ }})

	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.False(t, c.Has("a"))

	c.Clear()
	assert.Equal(t, 0, c.Len())

	// Explicit removal never fires the eviction callback.
	assert.Equal(t, 0, evictions)
}

func TestCache_KeysValuesEntries(t *testing.T) {
	c := New(Config{MaxSessions: 10})
	c.Set("a", 1)
	c.Set("b", 2)

	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	assert.ElementsMatch(t, []interface{}{1, 2}, c.Values())

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries["a"].Data)
	assert.False(t, entries["a"].CreatedAt.IsZero())
}

// Property: after any sequence of sets and gets, eviction takes exactly
// the entries with the smallest lastAccessedAt until size <= max.
func TestCache_EvictionProperty(t *testing.T) {
	c := New(Config{MaxSessions: 5})

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		time.Sleep(2 * time.Millisecond)
	}
	// Access pattern: k1 and k3 are fresh, k0/k2/k4 stale.
	c.Get("k1")
	time.Sleep(2 * time.Millisecond)
	c.Get("k3")
	time.Sleep(2 * time.Millisecond)

	c.Set("k5", 5) // evicts k0 (stalest)
	assert.False(t, c.Has("k0"))
	time.Sleep(2 * time.Millisecond)

	c.Set("k6", 6) // evicts k2
	assert.False(t, c.Has("k2"))

	for _, id := range []string{"k1", "k3", "k4", "k5", "k6"} {
		assert.True(t, c.Has(id), id)
	}
}
