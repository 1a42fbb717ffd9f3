// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stream parses the newline-delimited JSON emitted by an agent
// process into typed events and derives higher-level updates from them.
package stream

import (
	"encoding/json"
	"time"
)

// Event types emitted by the agent on its log stream.
const (
	TypeSystem      = "system"
	TypeAssistant   = "assistant"
	TypeUser        = "user"
	TypeResult      = "result"
	TypeStreamEvent = "stream_event"
)

// Result subtypes.
const (
	ResultSuccess              = "success"
	ResultErrorMaxTurns        = "error_max_turns"
	ResultErrorDuringExecution = "error_during_execution"
	ResultErrorMaxBudgetUSD    = "error_max_budget_usd"
	ResultErrorMaxRetries      = "error_max_structured_output_retries"
)

// Usage counts tokens consumed by a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is a parsed NDJSON line from the agent's log stream.
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
	// stream_event inner payload (partial message deltas)
	Event json.RawMessage `json:"event,omitempty"`
}

// ContentBlock mirrors the agent's message content block types.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// ParsedMessage is the message field of an assistant or user event.
type ParsedMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlocks decodes the event's message content, if any.
func (e *Event) ContentBlocks() []ContentBlock {
	if len(e.Message) == 0 {
		return nil
	}
	var msg ParsedMessage
	if json.Unmarshal(e.Message, &msg) != nil {
		return nil
	}
	return msg.Content
}

// TodoItem is one entry of a TodoWrite tool invocation.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form,omitempty"`
}

// Todo item statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoUpdate is the derived event for a TodoWrite tool use.
type TodoUpdate struct {
	SessionID string     `json:"session_id"`
	Todos     []TodoItem `json:"todos"`
}

// PlanUpdate is the derived event for a plan produced by the agent, either
// via ExitPlanMode or by writing a plan file.
type PlanUpdate struct {
	SessionID string `json:"session_id"`
	Plan      string `json:"plan"`
	PlanFile  string `json:"plan_file,omitempty"`
}

// ToolUse is the derived event for a single tool_use content block.
type ToolUse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	SessionID string          `json:"session_id"`
}

// ErrorInfo describes a stream or session failure.
type ErrorInfo struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
