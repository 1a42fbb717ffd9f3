// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// heredocDelimiter terminates config-file writes. The quoted form
// ('CONDUCTOR_EOF') suppresses every kind of shell expansion in the body.
const heredocDelimiter = "CONDUCTOR_EOF"

// ShellQuote wraps s in single quotes, escaping embedded single quotes as
// '\'' so the value survives the shell verbatim. NUL bytes are rejected
// outright; no quoting scheme survives them.
func ShellQuote(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("value contains NUL byte")
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'", nil
}

// ConfigWriteCommand builds a shell command that writes payload as JSON to
// path using a quoted-delimiter here-document, so nothing in the payload
// is subject to expansion ($HOME stays the literal five characters).
func ConfigWriteCommand(path string, payload interface{}) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config payload: %w", err)
	}
	content := string(data)
	if strings.ContainsRune(content, 0) {
		return "", fmt.Errorf("config payload contains NUL byte")
	}
	for _, line := range strings.Split(content, "\n") {
		if line == heredocDelimiter {
			return "", fmt.Errorf("config payload collides with heredoc delimiter")
		}
	}

	quotedPath, err := ShellQuote(path)
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}

	var b strings.Builder
	b.WriteString("cat > ")
	b.WriteString(quotedPath)
	b.WriteString(" <<'" + heredocDelimiter + "'\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(heredocDelimiter)
	b.WriteString("\n")
	return b.String(), nil
}
