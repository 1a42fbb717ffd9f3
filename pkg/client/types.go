// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// Session is one orchestrated agent conversation.
type Session struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	CWD            string      `json:"cwd,omitempty"`
	Model          string      `json:"model,omitempty"`
	FallbackModel  string      `json:"fallback_model,omitempty"`
	PermissionMode string      `json:"permission_mode"`
	TurnCount      int         `json:"turn_count"`
	TotalCostUSD   float64     `json:"total_cost_usd"`
	Usage          Usage       `json:"usage"`
	MCPServers     []MCPServer `json:"mcp_servers,omitempty"`
	AgentSessionID string      `json:"agent_session_id,omitempty"`
	Error          *ErrorInfo  `json:"error,omitempty"`
}

// Session statuses.
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// Usage counts tokens consumed by a session.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MCPServer is a configured MCP server with its status.
type MCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MCPStatus is the mcpServerStatus projection.
type MCPStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default,omitempty"`
}

// ErrorInfo describes a session or stream failure.
type ErrorInfo struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a streamed agent event.
type Event struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	UUID          string          `json:"uuid,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
	Result        string          `json:"result,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	DurationAPIMS int64           `json:"duration_api_ms,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
	TotalCostUSD  float64         `json:"total_cost_usd,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`
	Event         json.RawMessage `json:"event,omitempty"`
}

// TodoItem is one entry of a derived todo update.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form,omitempty"`
}

// TodoUpdate is a derived todo-list update.
type TodoUpdate struct {
	SessionID string     `json:"session_id"`
	Todos     []TodoItem `json:"todos"`
}

// PlanUpdate is a derived plan update.
type PlanUpdate struct {
	SessionID string `json:"session_id"`
	Plan      string `json:"plan"`
	PlanFile  string `json:"plan_file,omitempty"`
}

// ToolUse is a derived tool invocation event.
type ToolUse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	SessionID string          `json:"session_id"`
}

// Options are session creation options; see the server documentation for
// the recognized keys. A plain map keeps the client permissive: the
// server is the validator.
type Options map[string]interface{}
