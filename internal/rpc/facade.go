// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wingedpig/conductor/internal/bus"
	"github.com/wingedpig/conductor/internal/registry"
	"github.com/wingedpig/conductor/internal/stream"
)

// Notifier delivers one-way capability invocations back to the caller.
// Implementations must never block the facade on a slow client and must
// swallow their own failures.
type Notifier interface {
	Notify(handleID, method string, payload interface{})
}

// Facade exposes the session, messaging, control, and info operations
// over RPC. Dispatch is an open-coded method-name switch; each method
// validates its identifiers before acting.
type Facade struct {
	reg *registry.Registry
	bus *bus.Bus
	// resultTimeout bounds how long a callback call waits for a terminal
	// event before giving up.
	resultTimeout time.Duration
}

// NewFacade creates the RPC facade.
func NewFacade(reg *registry.Registry, b *bus.Bus, resultTimeout time.Duration) *Facade {
	if resultTimeout <= 0 {
		resultTimeout = 10 * time.Minute
	}
	return &Facade{reg: reg, bus: b, resultTimeout: resultTimeout}
}

// Dispatch invokes method with args. notifier may be nil (batched
// transport): methods that need callback capabilities then fail with
// invalid-argument instead of crashing.
func (f *Facade) Dispatch(ctx context.Context, method string, args []json.RawMessage, notifier Notifier) (interface{}, *Error) {
	switch method {
	case "createSession":
		return f.createSession(args)
	case "getSession":
		return f.getSession(args)
	case "resumeSession":
		return f.resumeSession(args)
	case "listSessions":
		return f.listSessions()
	case "destroySession":
		return f.destroySession(args)
	case "sendMessage":
		return f.sendMessage(ctx, args)
	case "sendMessageWithCallbacks":
		return f.sendMessageWithCallbacks(ctx, args, notifier)
	case "query":
		return f.query(ctx, args)
	case "queryWithCallbacks":
		return f.queryWithCallbacks(ctx, args, notifier)
	case "interrupt":
		return f.interrupt(args)
	case "setPermissionMode":
		return f.setPermissionMode(args)
	case "supportedModels":
		return f.reg.Models(), nil
	case "mcpServerStatus":
		return f.mcpServerStatus(args)
	default:
		return nil, &Error{Code: CodeNotFound, Message: "unknown method " + method}
	}
}

func (f *Facade) createSession(args []json.RawMessage) (interface{}, *Error) {
	options, rpcErr := decodeOptions(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := f.reg.Create(options)
	if err != nil {
		return nil, mapError(err)
	}
	return sess, nil
}

func (f *Facade) getSession(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := f.reg.Get(id)
	if err != nil {
		return nil, mapError(err)
	}
	// Unknown id is a null result here, not an error: getSession is the
	// point lookup.
	if sess == nil {
		return nil, nil
	}
	return sess, nil
}

func (f *Facade) resumeSession(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := f.reg.Resume(id)
	if err != nil {
		return nil, mapError(err)
	}
	return sess, nil
}

func (f *Facade) listSessions() (interface{}, *Error) {
	sessions, err := f.reg.List()
	if err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

func (f *Facade) destroySession(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := f.reg.Destroy(id); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (f *Facade) sendMessage(ctx context.Context, args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	text, rpcErr := decodeString(args, 1, "text")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := f.reg.SendMessage(ctx, id, text); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (f *Facade) interrupt(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := f.reg.Interrupt(id); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (f *Facade) setPermissionMode(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mode, rpcErr := decodeString(args, 1, "mode")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := f.reg.SetPermissionMode(id, registry.PermissionMode(mode)); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (f *Facade) mcpServerStatus(args []json.RawMessage) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	statuses, err := f.reg.MCPServerStatus(id)
	if err != nil {
		return nil, mapError(err)
	}
	return statuses, nil
}

// terminal is the outcome of awaiting a session's terminal event.
type terminal struct {
	result *stream.Event
	err    *stream.ErrorInfo
}

// sendMessageWithCallbacks subscribes the caller's capability to the
// session's event keys, sends the message, and resolves when a terminal
// result or error event arrives. Subscriptions are removed exactly once
// regardless of which terminal event fires first.
func (f *Facade) sendMessageWithCallbacks(ctx context.Context, args []json.RawMessage, notifier Notifier) (interface{}, *Error) {
	id, rpcErr := decodeSessionID(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	text, rpcErr := decodeString(args, 1, "text")
	if rpcErr != nil {
		return nil, rpcErr
	}
	handle, rpcErr := decodeCapabilityArg(args, 2, notifier)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess, err := f.reg.Get(id)
	if err != nil {
		return nil, mapError(err)
	}
	if sess == nil {
		return nil, &Error{Code: CodeNotFound, Message: "session " + id + " not found"}
	}

	_, term, rpcErr := f.streamTurn(ctx, id, text, handle, notifier)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if term.err != nil {
		code := CodeSandboxError
		if term.err.Code == "interrupted" {
			code = CodeInterrupted
		}
		return nil, &Error{Code: code, Message: term.err.Message}
	}
	return nil, nil
}

// query creates a session, runs one prompt to completion, and returns the
// final result text.
func (f *Facade) query(ctx context.Context, args []json.RawMessage) (interface{}, *Error) {
	prompt, rpcErr := decodeString(args, 0, "prompt")
	if rpcErr != nil {
		return nil, rpcErr
	}
	options, rpcErr := decodeOptions(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return f.runQuery(ctx, prompt, options, "", nil)
}

// queryWithCallbacks is query with streaming callbacks.
func (f *Facade) queryWithCallbacks(ctx context.Context, args []json.RawMessage, notifier Notifier) (interface{}, *Error) {
	prompt, rpcErr := decodeString(args, 0, "prompt")
	if rpcErr != nil {
		return nil, rpcErr
	}
	options, rpcErr := decodeOptions(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	handle, rpcErr := decodeCapabilityArg(args, 2, notifier)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return f.runQuery(ctx, prompt, options, handle, notifier)
}

func (f *Facade) runQuery(ctx context.Context, prompt string, options map[string]interface{}, handle string, notifier Notifier) (interface{}, *Error) {
	sess, err := f.reg.Create(options)
	if err != nil {
		return nil, mapError(err)
	}

	_, term, rpcErr := f.streamTurn(ctx, sess.ID, prompt, handle, notifier)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if term.err != nil {
		code := CodeSandboxError
		if term.err.Code == "interrupted" {
			code = CodeInterrupted
		}
		return nil, &Error{Code: code, Message: term.err.Message}
	}
	if term.result != nil {
		return term.result.Result, nil
	}
	return "", nil
}

// streamTurn wires the capability to the session's bus keys, sends text,
// and waits for the terminal event. The subscription lifetime is tied to
// this call: unsubscribe happens exactly once, on the terminal event,
// cancellation, or timeout — this is what breaks the capability ->
// subscription -> bus -> capability reference cycle.
func (f *Facade) streamTurn(ctx context.Context, id, text, handle string, notifier Notifier) (string, terminal, *Error) {
	done := make(chan terminal, 1)
	finish := func(t terminal) {
		select {
		case done <- t:
		default:
		}
	}

	notify := func(method string, payload interface{}) {
		if notifier != nil && handle != "" {
			notifier.Notify(handle, method, payload)
		}
	}

	var unsubs []func()
	subscribe := func(kind string, handler bus.Handler) *Error {
		unsub, err := f.bus.Subscribe(bus.Key(kind, id), handler)
		if err != nil {
			return &Error{Code: CodeInternal, Message: err.Error()}
		}
		unsubs = append(unsubs, unsub)
		return nil
	}
	var unsubOnce sync.Once
	unsubscribeAll := func() {
		unsubOnce.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
		})
	}
	defer unsubscribeAll()

	subs := []struct {
		kind    string
		handler bus.Handler
	}{
		{bus.KindOutput, func(ev bus.Event) {
			if se, ok := ev.Payload.(stream.Event); ok && se.Type == stream.TypeAssistant {
				notify(CallbackOnMessage, se)
			}
		}},
		{bus.KindTodo, func(ev bus.Event) { notify(CallbackOnTodoUpdate, ev.Payload) }},
		{bus.KindPlan, func(ev bus.Event) { notify(CallbackOnPlanUpdate, ev.Payload) }},
		{bus.KindTool, func(ev bus.Event) { notify(CallbackOnToolUse, ev.Payload) }},
		{bus.KindResult, func(ev bus.Event) {
			se, ok := ev.Payload.(stream.Event)
			if !ok {
				return
			}
			notify(CallbackOnComplete, se)
			finish(terminal{result: &se})
		}},
		{bus.KindError, func(ev bus.Event) {
			info, ok := ev.Payload.(stream.ErrorInfo)
			if !ok {
				return
			}
			notify(CallbackOnError, info)
			finish(terminal{err: &info})
		}},
	}
	for _, s := range subs {
		if rpcErr := subscribe(s.kind, s.handler); rpcErr != nil {
			return id, terminal{}, rpcErr
		}
	}

	if err := f.reg.SendMessage(ctx, id, text); err != nil {
		return id, terminal{}, mapError(err)
	}

	select {
	case t := <-done:
		return id, t, nil
	case <-ctx.Done():
		return id, terminal{}, &Error{Code: CodeTimeout, Message: "cancelled awaiting result"}
	case <-time.After(f.resultTimeout):
		return id, terminal{}, &Error{Code: CodeTimeout, Message: "timed out awaiting result"}
	}
}

// Argument decoding helpers. Session ids arrive either as plain strings
// or as a piped session object {"id": "..."} — the latter is what makes
// createSession(...).pipe("sendMessage", ...) work.

func decodeSessionID(args []json.RawMessage, idx int) (string, *Error) {
	if idx >= len(args) {
		return "", &Error{Code: CodeInvalidArgument, Message: "missing session id", Field: "id"}
	}
	var id string
	if err := json.Unmarshal(args[idx], &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args[idx], &obj); err == nil && obj.ID != "" {
		return obj.ID, nil
	}
	return "", &Error{Code: CodeInvalidArgument, Message: "session id must be a string", Field: "id"}
}

func decodeString(args []json.RawMessage, idx int, field string) (string, *Error) {
	if idx >= len(args) {
		return "", &Error{Code: CodeInvalidArgument, Message: "missing " + field, Field: field}
	}
	var s string
	if err := json.Unmarshal(args[idx], &s); err != nil {
		return "", &Error{Code: CodeInvalidArgument, Message: field + " must be a string", Field: field}
	}
	return s, nil
}

func decodeOptions(args []json.RawMessage, idx int) (map[string]interface{}, *Error) {
	if idx >= len(args) || len(args[idx]) == 0 {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(args[idx], &raw); err != nil {
		// Tolerate an explicit null.
		var null interface{}
		if json.Unmarshal(args[idx], &null) == nil && null == nil {
			return nil, nil
		}
		return nil, &Error{Code: CodeInvalidArgument, Message: "options must be an object", Field: "options"}
	}
	return raw, nil
}

func decodeCapabilityArg(args []json.RawMessage, idx int, notifier Notifier) (string, *Error) {
	if idx >= len(args) {
		return "", &Error{Code: CodeInvalidArgument, Message: "missing callbacks", Field: "callbacks"}
	}
	handle, ok := DecodeCapability(args[idx])
	if !ok {
		return "", &Error{Code: CodeInvalidArgument, Message: "callbacks must be a capability", Field: "callbacks"}
	}
	if notifier == nil {
		return "", &Error{Code: CodeInvalidArgument, Message: "callback capabilities are not supported on the batched transport", Field: "callbacks"}
	}
	return handle, nil
}

// mapError converts registry errors into structured RPC errors.
func mapError(err error) *Error {
	var vErr *registry.ValidationError
	if errors.As(err, &vErr) {
		return &Error{Code: CodeInvalidArgument, Message: vErr.Message, Field: vErr.Field}
	}
	if errors.Is(err, registry.ErrNotFound) {
		return &Error{Code: CodeNotFound, Message: "session not found"}
	}
	return &Error{Code: CodeSandboxError, Message: err.Error()}
}
