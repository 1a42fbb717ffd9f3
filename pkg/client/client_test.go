// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBatchServer stubs the batched RPC endpoint with a per-method
// handler table.
func newBatchServer(t *testing.T, handlers map[string]func(args []json.RawMessage) (interface{}, *APIError)) (*httptest.Server, *http.Request) {
	t.Helper()
	var lastReq http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastReq = *r.Clone(context.Background())
		require.Equal(t, "/api/v1/rpc/batch", r.URL.Path)

		var frame wireFrame
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))

		handler, ok := handlers[frame.Method]
		require.True(t, ok, "unexpected method %s", frame.Method)

		result, apiErr := handler(frame.Args)
		response := wireFrame{ID: frame.ID, Error: apiErr}
		if apiErr == nil {
			data, err := json.Marshal(result)
			require.NoError(t, err)
			response.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		if apiErr != nil {
			w.WriteHeader(http.StatusNotFound)
		}
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server, &lastReq
}

func TestClient_SessionsCreate(t *testing.T) {
	server, lastReq := newBatchServer(t, map[string]func([]json.RawMessage) (interface{}, *APIError){
		"createSession": func(args []json.RawMessage) (interface{}, *APIError) {
			require.Len(t, args, 1)
			var opts map[string]interface{}
			require.NoError(t, json.Unmarshal(args[0], &opts))
			assert.Equal(t, "/w", opts["cwd"])
			return Session{ID: "s1", Status: StatusActive, CWD: "/w"}, nil
		},
	})

	c := New(server.URL, WithAPIKey("k1"))
	sess, err := c.Sessions.Create(context.Background(), Options{"cwd": "/w"})
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "k1", lastReq.Header.Get("X-API-Key"))
}

func TestClient_TokenAuthHeader(t *testing.T) {
	server, lastReq := newBatchServer(t, map[string]func([]json.RawMessage) (interface{}, *APIError){
		"listSessions": func([]json.RawMessage) (interface{}, *APIError) {
			return []Session{}, nil
		},
	})

	c := New(server.URL, WithToken("tok.en.x"))
	_, err := c.Sessions.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok.en.x", lastReq.Header.Get("Authorization"))
}

func TestClient_GetNullSession(t *testing.T) {
	server, _ := newBatchServer(t, map[string]func([]json.RawMessage) (interface{}, *APIError){
		"getSession": func([]json.RawMessage) (interface{}, *APIError) {
			return nil, nil
		},
	})

	c := New(server.URL)
	sess, err := c.Sessions.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestClient_APIErrorSurfaced(t *testing.T) {
	server, _ := newBatchServer(t, map[string]func([]json.RawMessage) (interface{}, *APIError){
		"resumeSession": func([]json.RawMessage) (interface{}, *APIError) {
			return nil, &APIError{Code: "not-found", Message: "session not found"}
		},
	})

	c := New(server.URL)
	_, err := c.Sessions.Resume(context.Background(), "ghost")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "not-found", apiErr.Code)
	assert.Equal(t, "not-found: session not found", apiErr.Error())
}

func TestClient_EdgeErrorShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate_limited","message":"rate limit exceeded"}`))
	}))
	t.Cleanup(server.Close)

	c := New(server.URL)
	_, err := c.Sessions.List(context.Background())
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "rate_limited", apiErr.Code)
}

func TestClient_QueryAndControls(t *testing.T) {
	server, _ := newBatchServer(t, map[string]func([]json.RawMessage) (interface{}, *APIError){
		"query": func(args []json.RawMessage) (interface{}, *APIError) {
			var prompt string
			require.NoError(t, json.Unmarshal(args[0], &prompt))
			assert.Equal(t, "hi", prompt)
			return "answer", nil
		},
		"interrupt": func(args []json.RawMessage) (interface{}, *APIError) {
			return nil, nil
		},
		"setPermissionMode": func(args []json.RawMessage) (interface{}, *APIError) {
			var mode string
			require.NoError(t, json.Unmarshal(args[1], &mode))
			assert.Equal(t, "plan", mode)
			return nil, nil
		},
		"supportedModels": func([]json.RawMessage) (interface{}, *APIError) {
			return []ModelInfo{{ID: "claude-sonnet-4-5", Default: true}}, nil
		},
		"mcpServerStatus": func([]json.RawMessage) (interface{}, *APIError) {
			return []MCPStatus{{Name: "files", Status: "connected"}}, nil
		},
	})

	c := New(server.URL)
	ctx := context.Background()

	answer, err := c.Sessions.Query(ctx, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer)

	require.NoError(t, c.Sessions.Interrupt(ctx, "s1"))
	require.NoError(t, c.Sessions.SetPermissionMode(ctx, "s1", "plan"))

	models, err := c.Sessions.SupportedModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.True(t, models[0].Default)

	statuses, err := c.Sessions.MCPServerStatus(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "connected", statuses[0].Status)
}
