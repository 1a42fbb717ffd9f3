// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bus provides the in-process event bus. Keys are strings of the
// form "<kind>:<sessionID>"; events published under one key are never
// delivered to subscribers of another.
package bus

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Event kinds used for session-scoped keys.
const (
	KindOutput = "output"
	KindTodo   = "todo"
	KindPlan   = "plan"
	KindTool   = "tool"
	KindResult = "result"
	KindError  = "error"
)

// Key builds the subscription key for a kind and session id.
func Key(kind, sessionID string) string {
	return kind + ":" + sessionID
}

// Event is a delivered bus event.
type Event struct {
	Key       string      `json:"key"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Handler receives events for a key. Delivery is synchronous: a slow
// handler delays later emits on the same key, which is the backpressure
// policy here. A panicking handler is recovered and logged; the remaining
// subscribers still receive the event.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the key-exact pub/sub bus.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*subscription
	history    *History
	nextID     uint64
	seq        uint64
	closed     atomic.Bool
	stopPruner chan struct{}
	wg         sync.WaitGroup
}

// Config configures the bus.
type Config struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

// New creates an event bus.
func New(cfg Config) *Bus {
	b := &Bus{
		subs:       make(map[string][]*subscription),
		history:    NewHistory(cfg.HistoryMaxEvents, cfg.HistoryMaxAge),
		stopPruner: make(chan struct{}),
	}

	// Background pruner enforces the history max age.
	pruneInterval := b.history.MaxAge() / 10
	if pruneInterval < time.Minute {
		pruneInterval = time.Minute
	}
	if pruneInterval > time.Hour {
		pruneInterval = time.Hour
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopPruner:
				return
			case <-ticker.C:
				b.history.Prune()
			}
		}
	}()

	return b
}

// Subscribe registers a handler for a key and returns an unsubscribe
// function that removes the handler exactly once; later calls are no-ops.
func (b *Bus) Subscribe(key string, handler Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscription{id: id, handler: handler}
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(key, id)
		})
	}, nil
}

func (b *Bus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Emit delivers payload to every subscriber of key, in registration order.
// Emits on the same key observed by a single subscriber arrive in emit
// order; across keys no ordering is promised.
func (b *Bus) Emit(key string, payload interface{}) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	event := Event{
		Key:       key,
		Seq:       atomic.AddUint64(&b.seq, 1),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	b.history.Add(event)

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[key]))
	copy(subs, b.subs[key])
	b.mu.RUnlock()

	for _, sub := range subs {
		deliver(sub.handler, event)
	}
	return nil
}

// deliver invokes a handler with panic protection.
func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: handler panic for %s: %v", ev.Key, r)
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of subscribers for a key.
func (b *Bus) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// History returns past events matching the filter.
func (b *Bus) History(filter HistoryFilter) []Event {
	return b.history.Query(filter)
}

// DropSession removes history entries for a session across all kinds.
// Subscribers are untouched; their unsubscribe handles remain valid.
func (b *Bus) DropSession(sessionID string) {
	b.history.DropSuffix(":" + sessionID)
}

// Close shuts the bus down. Further Subscribe/Emit calls fail.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.stopPruner)
	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()
	b.wg.Wait()
	b.history.Close()
}
