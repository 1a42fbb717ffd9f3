// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnState is the duplex connection's lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// Connection errors.
var (
	ErrConnClosed  = errors.New("connection closed")
	ErrCallTimeout = errors.New("call timed out")
)

// ConnOption configures a duplex connection.
type ConnOption func(*Conn)

// WithConnAPIKey authenticates the websocket handshake with an API key.
func WithConnAPIKey(key string) ConnOption {
	return func(c *Conn) { c.header.Set("X-API-Key", key) }
}

// WithConnToken authenticates the handshake with a bearer token.
func WithConnToken(token string) ConnOption {
	return func(c *Conn) { c.header.Set("Authorization", "Bearer "+token) }
}

// WithCallTimeout sets the default per-call timeout (30s if unset).
func WithCallTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithReconnect configures the linear reconnect backoff: delay is
// base * attempt, up to maxAttempts. maxAttempts 0 disables reconnect.
func WithReconnect(base time.Duration, maxAttempts int) ConnOption {
	return func(c *Conn) {
		c.reconnectBase = base
		c.reconnectMax = maxAttempts
	}
}

// WithConnectTimeout bounds the websocket handshake.
func WithConnectTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// Callbacks is the caller-supplied capability passed to streaming calls.
// Methods are invoked as one-way messages from the server; a nil field is
// simply skipped, and a panicking callback is recovered so it never
// tears down the connection.
type Callbacks struct {
	OnMessage    func(Event)
	OnTodoUpdate func(TodoUpdate)
	OnPlanUpdate func(PlanUpdate)
	OnToolUse    func(ToolUse)
	OnError      func(ErrorInfo)
	OnComplete   func(Event)
}

type pendingCall struct {
	ch    chan wireFrame
	timer *time.Timer
}

// Conn is the long-lived duplex RPC connection: the client-side stub.
// All methods are safe for concurrent use.
type Conn struct {
	url            string
	header         http.Header
	callTimeout    time.Duration
	connectTimeout time.Duration
	reconnectBase  time.Duration
	reconnectMax   int

	mu        sync.Mutex
	ws        *websocket.Conn
	state     ConnState
	stateSubs map[uint64]func(ConnState)
	nextSubID uint64
	pending   map[string]*pendingCall
	caps      map[string]*Callbacks
	attempts  int
	closed    bool

	writeMu sync.Mutex
}

// Dial opens a duplex RPC connection and returns the stub once connected.
func Dial(ctx context.Context, url string, opts ...ConnOption) (*Conn, error) {
	c := &Conn{
		url:            url,
		header:         http.Header{},
		callTimeout:    30 * time.Second,
		connectTimeout: 15 * time.Second,
		reconnectBase:  time.Second,
		reconnectMax:   5,
		state:          StateDisconnected,
		stateSubs:      make(map[uint64]func(ConnState)),
		pending:        make(map[string]*pendingCall),
		caps:           make(map[string]*Callbacks),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange subscribes to state transitions. The returned function
// removes the subscription.
func (c *Conn) OnStateChange(fn func(ConnState)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.stateSubs, id)
			c.mu.Unlock()
		})
	}
}

// setState transitions the state machine and notifies subscribers.
func (c *Conn) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	subs := make([]func(ConnState), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// connect performs the websocket handshake and starts the read loop.
func (c *Conn) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, c.header)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readLoop(ws)
	return nil
}

// readLoop consumes frames until the connection drops, then fails the
// pending calls and schedules a reconnect.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue // malformed inbound frames are ignored
		}
		switch {
		case frame.Method == "__callback__":
			c.dispatchCallback(frame.Args)
		case frame.Method == "" && frame.ID != "":
			c.resolve(frame)
		}
	}

	// Teardown hygiene: drop handler references so nothing keeps the dead
	// connection alive.
	ws.SetPongHandler(nil)
	ws.SetPingHandler(nil)
	ws.SetCloseHandler(nil)
	ws.Close()

	c.failPending(ErrConnClosed)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.setState(StateDisconnected)
		return
	}

	c.setState(StateDisconnected)
	c.reconnect()
}

// reconnect retries with linearly growing delay (base * attempt) up to
// the attempt cap, then surfaces error state to subscribers.
func (c *Conn) reconnect() {
	for {
		c.mu.Lock()
		if c.closed || c.reconnectMax <= 0 {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if attempt > c.reconnectMax {
			c.setState(StateError)
			return
		}

		time.Sleep(c.reconnectBase * time.Duration(attempt))

		if err := c.connect(context.Background()); err == nil {
			return // attempts reset inside connect
		}
	}
}

// resolve completes a pending call. The pending entry is removed exactly
// once: a response for an already-timed-out id is dropped here.
func (c *Conn) resolve(frame wireFrame) {
	c.mu.Lock()
	call, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
		call.timer.Stop()
	}
	c.mu.Unlock()
	if ok {
		call.ch <- frame
	}
}

// failPending aborts every in-flight call with err.
func (c *Conn) failPending(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	message := err.Error()
	for _, call := range calls {
		call.timer.Stop()
		call.ch <- wireFrame{Error: &APIError{Code: "disconnected", Message: message}}
	}
}

// Call invokes method with args and waits for the response, bounded by
// the default per-call timeout.
func (c *Conn) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	return c.CallWithTimeout(ctx, c.callTimeout, method, args...)
}

// CallWithTimeout is Call with an explicit timeout. The timer starts at
// send; on expiry the pending entry is removed and the caller sees
// ErrCallTimeout, but the connection remains usable.
func (c *Conn) CallWithTimeout(ctx context.Context, timeout time.Duration, method string, args ...interface{}) (json.RawMessage, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return c.callRaw(ctx, timeout, method, encoded)
}

func (c *Conn) callRaw(ctx context.Context, timeout time.Duration, method string, args []json.RawMessage) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.callTimeout
	}

	id := uuid.New().String()
	call := &pendingCall{ch: make(chan wireFrame, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	ws := c.ws
	call.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		_, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			call.ch <- wireFrame{Error: &APIError{Code: "timeout", Message: ErrCallTimeout.Error()}}
		}
	})
	c.pending[id] = call
	c.mu.Unlock()

	if ws == nil {
		c.resolveLocal(id, call, &APIError{Code: "disconnected", Message: "not connected"})
	} else if err := c.writeFrame(ws, wireFrame{ID: id, Method: method, Args: args}); err != nil {
		c.resolveLocal(id, call, &APIError{Code: "disconnected", Message: err.Error()})
	}

	select {
	case frame := <-call.ch:
		if frame.Error != nil {
			if frame.Error.Code == "timeout" {
				return nil, ErrCallTimeout
			}
			return nil, frame.Error
		}
		return frame.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		if _, ok := c.pending[id]; ok {
			delete(c.pending, id)
			call.timer.Stop()
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// resolveLocal fails a just-registered call without a round trip.
func (c *Conn) resolveLocal(id string, call *pendingCall, apiErr *APIError) {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		call.timer.Stop()
	}
	c.mu.Unlock()
	if ok {
		call.ch <- wireFrame{Error: apiErr}
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, frame wireFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteJSON(frame)
}

// dispatchCallback routes a one-way capability invocation to the
// registered Callbacks value.
func (c *Conn) dispatchCallback(args []json.RawMessage) {
	if len(args) < 3 {
		return
	}
	var handleID, method string
	if json.Unmarshal(args[0], &handleID) != nil || json.Unmarshal(args[1], &method) != nil {
		return
	}

	c.mu.Lock()
	cb := c.caps[handleID]
	c.mu.Unlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("client: callback panic: %v", r)
		}
	}()

	payload := args[2]
	switch method {
	case "onMessage":
		if cb.OnMessage != nil {
			var ev Event
			if json.Unmarshal(payload, &ev) == nil {
				cb.OnMessage(ev)
			}
		}
	case "onTodoUpdate":
		if cb.OnTodoUpdate != nil {
			var todo TodoUpdate
			if json.Unmarshal(payload, &todo) == nil {
				cb.OnTodoUpdate(todo)
			}
		}
	case "onPlanUpdate":
		if cb.OnPlanUpdate != nil {
			var plan PlanUpdate
			if json.Unmarshal(payload, &plan) == nil {
				cb.OnPlanUpdate(plan)
			}
		}
	case "onToolUse":
		if cb.OnToolUse != nil {
			var use ToolUse
			if json.Unmarshal(payload, &use) == nil {
				cb.OnToolUse(use)
			}
		}
	case "onError":
		if cb.OnError != nil {
			var info ErrorInfo
			if json.Unmarshal(payload, &info) == nil {
				cb.OnError(info)
			}
		}
	case "onComplete":
		if cb.OnComplete != nil {
			var ev Event
			if json.Unmarshal(payload, &ev) == nil {
				cb.OnComplete(ev)
			}
		}
	}
}

// registerCallbacks allocates a capability handle for cb. The returned
// release must be called when the parent call ends; the handle dies with
// it, which is what breaks the callback/subscription cycle.
func (c *Conn) registerCallbacks(cb *Callbacks) (json.RawMessage, func()) {
	id := uuid.New().String()
	c.mu.Lock()
	c.caps[id] = cb
	c.mu.Unlock()

	arg, _ := json.Marshal(map[string]string{"__capability__": id})

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.caps, id)
			c.mu.Unlock()
		})
	}
	return arg, release
}

// Disconnect tears the connection down. Pending calls fail, reconnect is
// suppressed, and all handlers are released.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.caps = make(map[string]*Callbacks)
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.failPending(ErrConnClosed)
	c.setState(StateDisconnected)
	return nil
}
