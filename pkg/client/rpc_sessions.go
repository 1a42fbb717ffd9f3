// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Typed wrappers over the duplex stub. Each is a thin shell around the
// generic Call primitive, which is the whole dispatch surface: there is
// no reflective proxy.

// CreateSession creates a session over the duplex connection.
func (c *Conn) CreateSession(ctx context.Context, opts Options) (*Session, error) {
	data, err := c.Call(ctx, "createSession", opts)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// GetSession returns a session by id, or nil when unknown.
func (c *Conn) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := c.Call(ctx, "getSession", id)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// ResumeSession returns a session to active.
func (c *Conn) ResumeSession(ctx context.Context, id string) (*Session, error) {
	data, err := c.Call(ctx, "resumeSession", id)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns every session.
func (c *Conn) ListSessions(ctx context.Context) ([]Session, error) {
	data, err := c.Call(ctx, "listSessions")
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	return sessions, nil
}

// DestroySession terminates and removes a session.
func (c *Conn) DestroySession(ctx context.Context, id string) error {
	_, err := c.Call(ctx, "destroySession", id)
	return err
}

// SendMessage streams a user message into the session.
func (c *Conn) SendMessage(ctx context.Context, id, text string) error {
	_, err := c.Call(ctx, "sendMessage", id, text)
	return err
}

// SendMessageWithCallbacks sends a message and streams events to cb
// until the terminal result or error. The call resolves when the turn
// does, so it uses the turn timeout rather than the per-call default.
func (c *Conn) SendMessageWithCallbacks(ctx context.Context, id, text string, cb *Callbacks) error {
	capArg, release := c.registerCallbacks(cb)
	defer release()

	textArg, err := json.Marshal(text)
	if err != nil {
		return err
	}
	idArg, err := json.Marshal(id)
	if err != nil {
		return err
	}
	_, err = c.callRaw(ctx, turnTimeout(ctx), "sendMessageWithCallbacks",
		[]json.RawMessage{idArg, textArg, capArg})
	return err
}

// Query creates a session, runs one prompt to completion, and returns
// the final result text.
func (c *Conn) Query(ctx context.Context, prompt string, opts Options) (string, error) {
	data, err := c.CallWithTimeout(ctx, turnTimeout(ctx), "query", prompt, opts)
	if err != nil {
		return "", err
	}
	var result string
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("parse result: %w", err)
	}
	return result, nil
}

// QueryWithCallbacks is Query with streaming callbacks.
func (c *Conn) QueryWithCallbacks(ctx context.Context, prompt string, opts Options, cb *Callbacks) (string, error) {
	capArg, release := c.registerCallbacks(cb)
	defer release()

	promptArg, err := json.Marshal(prompt)
	if err != nil {
		return "", err
	}
	optsArg, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	data, err := c.callRaw(ctx, turnTimeout(ctx), "queryWithCallbacks",
		[]json.RawMessage{promptArg, optsArg, capArg})
	if err != nil {
		return "", err
	}
	var result string
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("parse result: %w", err)
	}
	return result, nil
}

// Interrupt kills the session's live process and marks it interrupted.
func (c *Conn) Interrupt(ctx context.Context, id string) error {
	_, err := c.Call(ctx, "interrupt", id)
	return err
}

// SetPermissionMode changes the session's permission mode.
func (c *Conn) SetPermissionMode(ctx context.Context, id, mode string) error {
	_, err := c.Call(ctx, "setPermissionMode", id, mode)
	return err
}

// SupportedModels returns the server's static model list.
func (c *Conn) SupportedModels(ctx context.Context) ([]ModelInfo, error) {
	data, err := c.Call(ctx, "supportedModels")
	if err != nil {
		return nil, err
	}
	var models []ModelInfo
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}
	return models, nil
}

// MCPServerStatus returns the session's MCP server states.
func (c *Conn) MCPServerStatus(ctx context.Context, id string) ([]MCPStatus, error) {
	data, err := c.Call(ctx, "mcpServerStatus", id)
	if err != nil {
		return nil, err
	}
	var statuses []MCPStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("parse statuses: %w", err)
	}
	return statuses, nil
}

// turnTimeout derives the timeout for turn-length calls: the context
// deadline when one is set, else a generous ceiling.
func turnTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 15 * time.Minute
}
