// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the persisted map of sessions and serializes
// every mutation behind a single process-wide mutex.
package registry

import (
	"time"

	"github.com/wingedpig/conductor/internal/stream"
)

// Status is a session's lifecycle state. Within one process lifetime the
// transition is active -> {interrupted | completed | error}; resuming or
// sending a new message returns the session to active.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
)

// PermissionMode controls how the agent gates tool invocations.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
	PermissionPlan        PermissionMode = "plan"
)

// ValidPermissionMode reports whether mode is one of the enumerated values.
func ValidPermissionMode(mode PermissionMode) bool {
	switch mode {
	case PermissionDefault, PermissionAcceptEdits, PermissionBypass, PermissionPlan:
		return true
	}
	return false
}

// SystemPrompt is either a free prompt string or a named preset with an
// optional appended suffix.
type SystemPrompt struct {
	Text   string `json:"text,omitempty"`
	Preset string `json:"preset,omitempty"`
	Append string `json:"append,omitempty"`
}

// Tools is either an explicit tool list or a named preset.
type Tools struct {
	Preset string   `json:"preset,omitempty"`
	List   []string `json:"list,omitempty"`
}

// MCP server connection states.
const (
	MCPConnected = "connected"
	MCPFailed    = "failed"
	MCPNeedsAuth = "needs-auth"
	MCPPending   = "pending"
)

// MCPServerConfig is one MCP server definition: stdio (command), SSE or
// HTTP (url).
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"` // "", "sse", "http"
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// MCPServer is a configured MCP server with its connection status.
type MCPServer struct {
	Name   string          `json:"name"`
	Config MCPServerConfig `json:"config"`
	Status string          `json:"status"`
}

// MCPStatus is the projection served by mcpServerStatus.
type MCPStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Session is one logical conversation with one agent process.
// Env is deliberately excluded from serialization: secrets never persist.
type Session struct {
	ID                     string            `json:"id"`
	Status                 Status            `json:"status"`
	CreatedAt              time.Time         `json:"created_at"`
	LastActivityAt         time.Time         `json:"last_activity_at"`
	CWD                    string            `json:"cwd,omitempty"`
	Model                  string            `json:"model,omitempty"`
	FallbackModel          string            `json:"fallback_model,omitempty"`
	SystemPrompt           *SystemPrompt     `json:"system_prompt,omitempty"`
	Tools                  *Tools            `json:"tools,omitempty"`
	AllowedTools           []string          `json:"allowed_tools,omitempty"`
	DisallowedTools        []string          `json:"disallowed_tools,omitempty"`
	PermissionMode         PermissionMode    `json:"permission_mode"`
	MaxTurns               int               `json:"max_turns,omitempty"`
	MaxBudgetUSD           float64           `json:"max_budget_usd,omitempty"`
	MaxThinkingTokens      int               `json:"max_thinking_tokens,omitempty"`
	TurnCount              int               `json:"turn_count"`
	TotalCostUSD           float64           `json:"total_cost_usd"`
	Usage                  stream.Usage      `json:"usage"`
	MCPServers             []MCPServer       `json:"mcp_servers,omitempty"`
	AgentSessionID         string            `json:"agent_session_id,omitempty"`
	IncludePartialMessages bool              `json:"include_partial_messages,omitempty"`
	Error                  *stream.ErrorInfo `json:"error,omitempty"`

	Env map[string]string `json:"-"`
}

// Clone returns a deep-enough copy for handing outside the registry.
func (s *Session) Clone() *Session {
	c := *s
	if s.SystemPrompt != nil {
		sp := *s.SystemPrompt
		c.SystemPrompt = &sp
	}
	if s.Tools != nil {
		t := *s.Tools
		t.List = append([]string(nil), s.Tools.List...)
		c.Tools = &t
	}
	c.AllowedTools = append([]string(nil), s.AllowedTools...)
	c.DisallowedTools = append([]string(nil), s.DisallowedTools...)
	c.MCPServers = append([]MCPServer(nil), s.MCPServers...)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.Env != nil {
		env := make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			env[k] = v
		}
		c.Env = env
	}
	return &c
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default,omitempty"`
}

// SupportedModels is the static model list served verbatim.
var SupportedModels = []ModelInfo{
	{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1"},
	{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", Default: true},
	{ID: "claude-haiku-4-5", DisplayName: "Claude Haiku 4.5"},
	{ID: "claude-sonnet-4-0", DisplayName: "Claude Sonnet 4"},
}
