// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the Conductor API.
//
// Conductor is a session orchestrator for long-running coding-agent
// processes. This library offers two transports over the same RPC
// surface:
//
//   - A batched HTTP client ([New]) for one-shot calls without
//     server push. Callback capabilities are not available here.
//   - A long-lived duplex connection ([Dial]) with reconnect, per-call
//     timeouts, streaming callbacks, and promise pipelining.
//
// # Getting Started
//
//	c := client.New("http://localhost:7433", client.WithAPIKey("k1"))
//	sess, err := c.Sessions.Create(ctx, client.Options{"cwd": "/work"})
//	err = c.Sessions.SendMessage(ctx, sess.ID, "hello")
//
// For streaming:
//
//	conn, err := client.Dial(ctx, "ws://localhost:7433/api/v1/rpc",
//	    client.WithConnAPIKey("k1"))
//	err = conn.SendMessageWithCallbacks(ctx, sess.ID, "hello", &client.Callbacks{
//	    OnMessage:  func(ev client.Event) { ... },
//	    OnComplete: func(ev client.Event) { ... },
//	})
//
// # Error Handling
//
// API errors are returned as *APIError values carrying a machine-readable
// code ("not-found", "invalid-argument", ...) and a message.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the batched-transport Conductor client. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client

	// Sessions provides the session, messaging, control, and info
	// operations over the batched transport.
	Sessions *SessionClient
}

// Option configures a Client.
type Option func(*Client)

// New creates a Conductor API client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Sessions = &SessionClient{c: c}
	return c
}

// WithAPIKey authenticates every request with an API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithToken authenticates every request with a bearer token (JWT).
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout for all requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError represents an error response from the Conductor API.
type APIError struct {
	// Code is a machine-readable error code (e.g. "not-found").
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Field names the offending option for validation errors.
	Field string `json:"field,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// wireFrame mirrors the server's RPC frame.
type wireFrame struct {
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *APIError         `json:"error,omitempty"`
}

// Call performs one RPC call over the batched transport and returns the
// raw result.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	frame := wireFrame{ID: "1", Method: method, Args: encoded}
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/rpc/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response wireFrame
	if err := json.Unmarshal(respBody, &response); err != nil {
		// Edge rejections (401/429) come back in the top-level
		// {error, message} shape, whose string error field does not
		// decode as a frame.
		var edge struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if resp.StatusCode >= 400 && json.Unmarshal(respBody, &edge) == nil && edge.Error != "" {
			return nil, &APIError{Code: edge.Error, Message: edge.Message}
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	if response.Error != nil {
		return nil, response.Error
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return response.Result, nil
}

func (c *Client) setAuth(header http.Header) {
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	} else if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
}

// encodeArgs marshals call arguments to raw JSON.
func encodeArgs(args []interface{}) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("marshal arg %d: %w", i, err)
		}
		encoded = append(encoded, data)
	}
	return encoded, nil
}
