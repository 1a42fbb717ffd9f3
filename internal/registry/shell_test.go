// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", `'plain'`},
		{"with space", `'with space'`},
		{"$HOME", `'$HOME'`},
		{"a'b", `'a'\''b'`},
		{"", `''`},
		{"a; rm -rf /", `'a; rm -rf /'`},
	}
	for _, tt := range tests {
		got, err := ShellQuote(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestShellQuote_RejectsNUL(t *testing.T) {
	_, err := ShellQuote("a\x00b")
	assert.Error(t, err)
}

func TestShellQuote_RoundTripThroughShell(t *testing.T) {
	for _, value := range []string{"$HOME", "a'b", "`id`", "x;y", "a b\tc"} {
		quoted, err := ShellQuote(value)
		require.NoError(t, err)
		out, err := exec.Command("/bin/sh", "-c", "printf %s "+quoted).Output()
		require.NoError(t, err)
		assert.Equal(t, value, string(out))
	}
}

func TestConfigWriteCommand_NoExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	command, err := ConfigWriteCommand(path, map[string]string{"k": "$HOME"})
	require.NoError(t, err)

	require.NoError(t, exec.Command("/bin/sh", "-c", command).Run())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// The literal five characters survive: no shell expansion happened.
	assert.Contains(t, string(data), `"k": "$HOME"`)
}

func TestConfigWriteCommand_BacktickAndSubshellSafe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	payload := map[string]string{"cmd": "`id`", "sub": "$(whoami)"}
	command, err := ConfigWriteCommand(path, payload)
	require.NoError(t, err)
	require.NoError(t, exec.Command("/bin/sh", "-c", command).Run())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "`id`")
	assert.Contains(t, string(data), "$(whoami)")
}

func TestConfigWriteCommand_DelimiterInPayload(t *testing.T) {
	// JSON escaping means the delimiter can appear inside values without
	// ever forming a bare delimiter line.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	command, err := ConfigWriteCommand(path, map[string]string{"k": "CONDUCTOR_EOF"})
	require.NoError(t, err)
	require.NoError(t, exec.Command("/bin/sh", "-c", command).Run())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"CONDUCTOR_EOF"`)
}

func TestConfigWriteCommand_QuotedPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odd name.json")

	command, err := ConfigWriteCommand(path, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NoError(t, exec.Command("/bin/sh", "-c", command).Run())

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(command, "'"+path+"'"))
}
