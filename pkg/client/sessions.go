// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionClient provides the session operations over the batched
// transport. Access it through [Client.Sessions].
type SessionClient struct {
	c *Client
}

// Create creates a session with the given options.
func (s *SessionClient) Create(ctx context.Context, opts Options) (*Session, error) {
	data, err := s.c.Call(ctx, "createSession", opts)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// Get returns a session by id, or nil when unknown.
func (s *SessionClient) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.c.Call(ctx, "getSession", id)
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

// Resume returns an interrupted or completed session to active.
func (s *SessionClient) Resume(ctx context.Context, id string) (*Session, error) {
	data, err := s.c.Call(ctx, "resumeSession", id)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// List returns every session.
func (s *SessionClient) List(ctx context.Context) ([]Session, error) {
	data, err := s.c.Call(ctx, "listSessions")
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	return sessions, nil
}

// Destroy terminates and removes a session. Destroying an unknown id is
// not an error.
func (s *SessionClient) Destroy(ctx context.Context, id string) error {
	_, err := s.c.Call(ctx, "destroySession", id)
	return err
}

// SendMessage streams a user message into the session's agent process.
func (s *SessionClient) SendMessage(ctx context.Context, id, text string) error {
	_, err := s.c.Call(ctx, "sendMessage", id, text)
	return err
}

// Query creates a throwaway session, runs one prompt to completion, and
// returns the final result text.
func (s *SessionClient) Query(ctx context.Context, prompt string, opts Options) (string, error) {
	data, err := s.c.Call(ctx, "query", prompt, opts)
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
func (s *SessionClient) Interrupt(ctx context.Context, id string) error {
	_, err := s.c.Call(ctx, "interrupt", id)
	return err
}

// SetPermissionMode changes how the session gates tool invocations.
func (s *SessionClient) SetPermissionMode(ctx context.Context, id, mode string) error {
	_, err := s.c.Call(ctx, "setPermissionMode", id, mode)
	return err
}

// SupportedModels returns the server's static model list.
func (s *SessionClient) SupportedModels(ctx context.Context) ([]ModelInfo, error) {
	data, err := s.c.Call(ctx, "supportedModels")
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
func (s *SessionClient) MCPServerStatus(ctx context.Context, id string) ([]MCPStatus, error) {
	data, err := s.c.Call(ctx, "mcpServerStatus", id)
	if err != nil {
		return nil, err
	}
	var statuses []MCPStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("parse statuses: %w", err)
	}
	return statuses, nil
}
