// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"sync"
	"time"
)

// Backend counts requests per key. The in-memory implementation below is
// the default; a distributed backend (shared counter store) can be
// plugged in instead.
type Backend interface {
	// Increment records one request under key and returns the count of
	// requests inside the current window. ttl is the window length.
	Increment(key string, ttl time.Duration) (int, error)
	// Get returns the current in-window count without recording.
	Get(key string) (int, error)
}

// LimitResult is the outcome of an admission check.
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
	Reset      time.Time
}

// LimiterConfig configures the sliding-window limiter.
type LimiterConfig struct {
	Window      time.Duration
	MaxRequests int
	Backend     Backend // nil -> in-memory
}

// Limiter applies a sliding-window request limit per client key. The
// counter is incremented at admission time, before the request runs, so
// requests that later fail downstream still count.
type Limiter struct {
	window  time.Duration
	max     int
	backend Backend
	memory  *MemoryBackend
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	l := &Limiter{window: cfg.Window, max: cfg.MaxRequests, backend: cfg.Backend}
	if l.backend == nil {
		l.memory = NewMemoryBackend()
		l.backend = l.memory
	}
	return l
}

// Allow admits or rejects one request under key.
func (l *Limiter) Allow(key string) LimitResult {
	count, err := l.backend.Increment(key, l.window)
	if err != nil {
		// A broken limiter backend must not take the API down with it.
		return LimitResult{Allowed: true, Remaining: 0, Limit: l.max, Reset: time.Now().Add(l.window)}
	}

	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	result := LimitResult{
		Allowed:   count <= l.max,
		Remaining: remaining,
		Limit:     l.max,
		Reset:     time.Now().Add(l.window),
	}
	if !result.Allowed {
		result.RetryAfter = l.retryAfter(key)
		result.Reset = time.Now().Add(result.RetryAfter)
	}
	return result
}

// retryAfter estimates when the window next frees a slot.
func (l *Limiter) retryAfter(key string) time.Duration {
	if l.memory != nil {
		if wait := l.memory.oldestAge(key, l.window); wait > 0 {
			return wait
		}
	}
	return l.window
}

// MemoryBackend is the in-process sliding-window counter: a pruned list
// of request timestamps per key.
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string][]time.Time)}
}

// Increment implements Backend.
func (b *MemoryBackend) Increment(key string, ttl time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	pruned := pruneWindow(b.windows[key], now.Add(-ttl))
	pruned = append(pruned, now)
	b.windows[key] = pruned
	return len(pruned), nil
}

// Get implements Backend. Timestamps are pruned only by Increment, so the
// count can still include requests that have left the window since the
// key's last Increment; an unknown key reads zero.
func (b *MemoryBackend) Get(key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows[key]), nil
}

// oldestAge returns how long until the oldest in-window timestamp leaves
// the window.
func (b *MemoryBackend) oldestAge(key string, ttl time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	timestamps := b.windows[key]
	if len(timestamps) == 0 {
		return 0
	}
	wait := ttl - time.Since(timestamps[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// pruneWindow drops timestamps older than cutoff, preserving order.
func pruneWindow(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(timestamps) && !timestamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return timestamps
	}
	return append(timestamps[:0:0], timestamps[idx:]...)
}
