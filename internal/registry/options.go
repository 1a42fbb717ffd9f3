// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// ValidationMode controls how unknown option keys are treated.
type ValidationMode string

const (
	ValidationStrict ValidationMode = "strict" // unknown key -> reject
	ValidationWarn   ValidationMode = "warn"   // unknown key -> log, accept
	ValidationSilent ValidationMode = "silent" // unknown key -> accept
)

// ValidationError reports an invalid option with its field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// modelRe is the shell-safe charset for model selectors.
var modelRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// knownOptionKeys are the recognized top-level session option keys.
var knownOptionKeys = map[string]bool{
	"apiKey": true, "model": true, "fallbackModel": true, "cwd": true,
	"env": true, "systemPrompt": true, "tools": true, "allowedTools": true,
	"disallowedTools": true, "permissionMode": true,
	"allowDangerouslySkipPermissions": true, "maxTurns": true,
	"maxBudgetUsd": true, "maxThinkingTokens": true, "mcpServers": true,
	"sleepAfter": true, "keepAlive": true, "includePartialMessages": true,
	"resume": true, "continue": true, "forkSession": true,
}

// Options are the validated session creation options.
type Options struct {
	APIKey                          string                     `json:"apiKey,omitempty"`
	Model                           string                     `json:"model,omitempty"`
	FallbackModel                   string                     `json:"fallbackModel,omitempty"`
	CWD                             string                     `json:"cwd,omitempty"`
	Env                             map[string]string          `json:"env,omitempty"`
	SystemPrompt                    *SystemPrompt              `json:"systemPrompt,omitempty"`
	Tools                           *Tools                     `json:"tools,omitempty"`
	AllowedTools                    []string                   `json:"allowedTools,omitempty"`
	DisallowedTools                 []string                   `json:"disallowedTools,omitempty"`
	PermissionMode                  PermissionMode             `json:"permissionMode,omitempty"`
	AllowDangerouslySkipPermissions bool                       `json:"allowDangerouslySkipPermissions,omitempty"`
	MaxTurns                        int                        `json:"maxTurns,omitempty"`
	MaxBudgetUSD                    float64                    `json:"maxBudgetUsd,omitempty"`
	MaxThinkingTokens               int                        `json:"maxThinkingTokens,omitempty"`
	MCPServers                      map[string]MCPServerConfig `json:"mcpServers,omitempty"`
	SleepAfter                      string                     `json:"sleepAfter,omitempty"`
	KeepAlive                       bool                       `json:"keepAlive,omitempty"`
	IncludePartialMessages          bool                       `json:"includePartialMessages,omitempty"`
	Resume                          string                     `json:"resume,omitempty"`
	Continue                        bool                       `json:"continue,omitempty"`
	ForkSession                     bool                       `json:"forkSession,omitempty"`
}

// ParseOptions validates a raw option map before any side effect and
// decodes it into Options. nil is a valid (empty) option map.
func ParseOptions(raw map[string]interface{}, mode ValidationMode) (*Options, error) {
	if raw == nil {
		return &Options{}, nil
	}

	for key := range raw {
		if knownOptionKeys[key] {
			continue
		}
		switch mode {
		case ValidationWarn:
			log.Printf("registry: ignoring unknown option %q", key)
		case ValidationSilent:
		default: // strict
			return nil, &ValidationError{Field: key, Message: "unknown option"}
		}
	}

	if err := checkPositiveNumber(raw, "maxTurns"); err != nil {
		return nil, err
	}
	if err := checkPositiveNumber(raw, "maxBudgetUsd"); err != nil {
		return nil, err
	}
	if err := checkPositiveNumber(raw, "maxThinkingTokens"); err != nil {
		return nil, err
	}

	opts := &Options{}
	opts.SystemPrompt = parseSystemPrompt(raw["systemPrompt"])
	opts.Tools = parseTools(raw["tools"])

	// Round-trip the remaining keys through JSON for typed decoding.
	scrubbed := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		if !knownOptionKeys[key] || key == "systemPrompt" || key == "tools" {
			continue
		}
		scrubbed[key] = value
	}
	data, err := json.Marshal(scrubbed)
	if err != nil {
		return nil, &ValidationError{Field: "options", Message: err.Error()}
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, &ValidationError{Field: "options", Message: err.Error()}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// checkPositiveNumber rejects a present-but-nonpositive numeric option.
func checkPositiveNumber(raw map[string]interface{}, key string) error {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	num, ok := value.(float64)
	if !ok {
		return &ValidationError{Field: key, Message: "must be a number"}
	}
	if num <= 0 {
		return &ValidationError{Field: key, Message: "must be positive"}
	}
	return nil
}

// parseSystemPrompt accepts a free string or {preset, append, text}.
func parseSystemPrompt(value interface{}) *SystemPrompt {
	switch v := value.(type) {
	case string:
		return &SystemPrompt{Text: v}
	case map[string]interface{}:
		sp := &SystemPrompt{}
		if s, ok := v["text"].(string); ok {
			sp.Text = s
		}
		if s, ok := v["preset"].(string); ok {
			sp.Preset = s
		}
		if s, ok := v["append"].(string); ok {
			sp.Append = s
		}
		return sp
	}
	return nil
}

// parseTools accepts an explicit list or a preset name.
func parseTools(value interface{}) *Tools {
	switch v := value.(type) {
	case string:
		return &Tools{Preset: v}
	case []interface{}:
		t := &Tools{}
		for _, item := range v {
			if s, ok := item.(string); ok {
				t.List = append(t.List, s)
			}
		}
		return t
	}
	return nil
}

// Validate checks the typed option values. It never touches the registry:
// validation happens before any side effect.
func (o *Options) Validate() error {
	if o.CWD != "" {
		for _, seg := range strings.Split(o.CWD, "/") {
			if seg == ".." {
				return &ValidationError{Field: "cwd", Message: "path traversal not allowed"}
			}
		}
	}
	if o.Model != "" && !modelRe.MatchString(o.Model) {
		return &ValidationError{Field: "model", Message: "must match [A-Za-z0-9._-]+"}
	}
	if o.FallbackModel != "" && !modelRe.MatchString(o.FallbackModel) {
		return &ValidationError{Field: "fallbackModel", Message: "must match [A-Za-z0-9._-]+"}
	}
	if o.PermissionMode != "" && !ValidPermissionMode(o.PermissionMode) {
		return &ValidationError{Field: "permissionMode", Message: "unknown permission mode"}
	}
	if o.MaxTurns < 0 {
		return &ValidationError{Field: "maxTurns", Message: "must be positive"}
	}
	if o.MaxBudgetUSD < 0 {
		return &ValidationError{Field: "maxBudgetUsd", Message: "must be positive"}
	}
	for name, cfg := range o.MCPServers {
		if err := validateMCPServer(name, cfg); err != nil {
			return err
		}
	}
	return nil
}

// validateMCPServer checks one MCP server entry: stdio entries need a
// command, sse/http entries need a url.
func validateMCPServer(name string, cfg MCPServerConfig) error {
	field := "mcpServers." + name
	switch cfg.Type {
	case "", "stdio":
		if cfg.Command == "" {
			return &ValidationError{Field: field, Message: "stdio server requires command"}
		}
	case "sse", "http":
		if cfg.URL == "" {
			return &ValidationError{Field: field, Message: cfg.Type + " server requires url"}
		}
	default:
		return &ValidationError{Field: field, Message: "unknown server type " + cfg.Type}
	}
	return nil
}
