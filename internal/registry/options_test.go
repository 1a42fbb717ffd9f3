// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions_Empty(t *testing.T) {
	opts, err := ParseOptions(nil, ValidationStrict)
	require.NoError(t, err)
	assert.Equal(t, &Options{}, opts)
}

func TestParseOptions_KnownKeys(t *testing.T) {
	raw := map[string]interface{}{
		"cwd":            "/work",
		"model":          "claude-sonnet-4-5",
		"fallbackModel":  "claude-haiku-4-5",
		"permissionMode": "acceptEdits",
		"maxTurns":       float64(5),
		"maxBudgetUsd":   1.5,
		"allowedTools":   []interface{}{"Bash", "Read"},
		"env":            map[string]interface{}{"FOO": "bar"},
		"keepAlive":      true,
		"resume":         "agent-sid",
	}
	opts, err := ParseOptions(raw, ValidationStrict)
	require.NoError(t, err)
	assert.Equal(t, "/work", opts.CWD)
	assert.Equal(t, "claude-sonnet-4-5", opts.Model)
	assert.Equal(t, PermissionAcceptEdits, opts.PermissionMode)
	assert.Equal(t, 5, opts.MaxTurns)
	assert.Equal(t, 1.5, opts.MaxBudgetUSD)
	assert.Equal(t, []string{"Bash", "Read"}, opts.AllowedTools)
	assert.Equal(t, "bar", opts.Env["FOO"])
	assert.True(t, opts.KeepAlive)
	assert.Equal(t, "agent-sid", opts.Resume)
}

func TestParseOptions_UnknownKeyModes(t *testing.T) {
	raw := map[string]interface{}{"frobnicate": true}

	_, err := ParseOptions(raw, ValidationStrict)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "frobnicate", vErr.Field)

	_, err = ParseOptions(raw, ValidationWarn)
	assert.NoError(t, err)

	_, err = ParseOptions(raw, ValidationSilent)
	assert.NoError(t, err)
}

func TestParseOptions_NumericBoundaries(t *testing.T) {
	// Zero is present-and-invalid; one is the smallest accepted value.
	_, err := ParseOptions(map[string]interface{}{"maxTurns": float64(0)}, ValidationStrict)
	assert.Error(t, err)

	_, err = ParseOptions(map[string]interface{}{"maxTurns": float64(1)}, ValidationStrict)
	assert.NoError(t, err)

	_, err = ParseOptions(map[string]interface{}{"maxBudgetUsd": float64(0)}, ValidationStrict)
	assert.Error(t, err)

	_, err = ParseOptions(map[string]interface{}{"maxBudgetUsd": float64(1)}, ValidationStrict)
	assert.NoError(t, err)

	_, err = ParseOptions(map[string]interface{}{"maxTurns": "five"}, ValidationStrict)
	assert.Error(t, err)
}

func TestParseOptions_CWDTraversal(t *testing.T) {
	for _, cwd := range []string{"../x", "/ok/../bad", "..", "a/../../b"} {
		_, err := ParseOptions(map[string]interface{}{"cwd": cwd}, ValidationStrict)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, cwd)
		assert.Equal(t, "cwd", vErr.Field)
	}

	_, err := ParseOptions(map[string]interface{}{"cwd": "/ok"}, ValidationStrict)
	assert.NoError(t, err)

	// Dotfiles are not traversal.
	_, err = ParseOptions(map[string]interface{}{"cwd": "/ok/.hidden"}, ValidationStrict)
	assert.NoError(t, err)
}

func TestParseOptions_ModelCharset(t *testing.T) {
	_, err := ParseOptions(map[string]interface{}{"model": "ok-1.5"}, ValidationStrict)
	assert.NoError(t, err)

	for _, model := range []string{"a; rm -rf /", "a b", "a$b", "a`b`"} {
		_, err := ParseOptions(map[string]interface{}{"model": model}, ValidationStrict)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, model)
		assert.Equal(t, "model", vErr.Field)
	}

	_, err = ParseOptions(map[string]interface{}{"fallbackModel": "b@d"}, ValidationStrict)
	assert.Error(t, err)
}

func TestParseOptions_PermissionMode(t *testing.T) {
	for _, mode := range []string{"default", "acceptEdits", "bypassPermissions", "plan"} {
		_, err := ParseOptions(map[string]interface{}{"permissionMode": mode}, ValidationStrict)
		assert.NoError(t, err, mode)
	}

	_, err := ParseOptions(map[string]interface{}{"permissionMode": "yolo"}, ValidationStrict)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "permissionMode", vErr.Field)
}

func TestParseOptions_SystemPromptShapes(t *testing.T) {
	opts, err := ParseOptions(map[string]interface{}{"systemPrompt": "be brief"}, ValidationStrict)
	require.NoError(t, err)
	require.NotNil(t, opts.SystemPrompt)
	assert.Equal(t, "be brief", opts.SystemPrompt.Text)

	opts, err = ParseOptions(map[string]interface{}{
		"systemPrompt": map[string]interface{}{"preset": "coder", "append": "and fast"},
	}, ValidationStrict)
	require.NoError(t, err)
	require.NotNil(t, opts.SystemPrompt)
	assert.Equal(t, "coder", opts.SystemPrompt.Preset)
	assert.Equal(t, "and fast", opts.SystemPrompt.Append)
}

func TestParseOptions_ToolsShapes(t *testing.T) {
	opts, err := ParseOptions(map[string]interface{}{"tools": "minimal"}, ValidationStrict)
	require.NoError(t, err)
	require.NotNil(t, opts.Tools)
	assert.Equal(t, "minimal", opts.Tools.Preset)

	opts, err = ParseOptions(map[string]interface{}{
		"tools": []interface{}{"Bash", "Edit"},
	}, ValidationStrict)
	require.NoError(t, err)
	require.NotNil(t, opts.Tools)
	assert.Equal(t, []string{"Bash", "Edit"}, opts.Tools.List)
}

func TestParseOptions_MCPServers(t *testing.T) {
	opts, err := ParseOptions(map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"files": map[string]interface{}{"command": "mcp-files", "args": []interface{}{"--root", "/"}},
			"web":   map[string]interface{}{"type": "sse", "url": "https://example.com/sse"},
		},
	}, ValidationStrict)
	require.NoError(t, err)
	require.Len(t, opts.MCPServers, 2)
	assert.Equal(t, "mcp-files", opts.MCPServers["files"].Command)
	assert.Equal(t, "sse", opts.MCPServers["web"].Type)

	_, err = ParseOptions(map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"bad": map[string]interface{}{"type": "sse"},
		},
	}, ValidationStrict)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mcpServers.bad", vErr.Field)

	_, err = ParseOptions(map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"bad": map[string]interface{}{"type": "carrier-pigeon", "url": "x"},
		},
	}, ValidationStrict)
	assert.Error(t, err)
}
