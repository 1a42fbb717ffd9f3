// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
)

// Pending is an in-flight call whose result is itself addressable:
// Pipe dispatches a follow-up method as soon as the antecedent resolves,
// without the caller waiting in between.
//
// Pending is deliberately a plain struct with Await/Done — it has no
// Then method and must never grow one: a promise-shaped accessor on a
// remote-result type is how thenable-coercion bugs happen.
type Pending struct {
	conn *Conn
	done chan struct{}

	result json.RawMessage
	err    error
}

// Begin starts a call and returns its pending result immediately.
func (c *Conn) Begin(method string, args ...interface{}) *Pending {
	p := &Pending{conn: c, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.result, p.err = c.Call(context.Background(), method, args...)
	}()
	return p
}

// Await blocks until the call resolves or ctx is cancelled.
func (p *Pending) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the call has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Pipe schedules method to be invoked on this call's resolved value: the
// upstream result becomes the first argument of the new call, followed
// by extraArgs. Arguments must be JSON-serializable. If the upstream
// fails, the piped call fails with the same error without dispatching.
func (p *Pending) Pipe(method string, extraArgs ...interface{}) *Pending {
	next := &Pending{conn: p.conn, done: make(chan struct{})}
	go func() {
		defer close(next.done)
		<-p.done
		if p.err != nil {
			next.err = p.err
			return
		}
		encoded, err := encodeArgs(extraArgs)
		if err != nil {
			next.err = err
			return
		}
		args := append([]json.RawMessage{p.result}, encoded...)
		next.result, next.err = p.conn.callRaw(context.Background(), p.conn.callTimeout, method, args)
	}()
	return next
}
