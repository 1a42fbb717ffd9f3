// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"path"
	"strings"
)

// Tool names with derived meaning.
const (
	toolTodoWrite    = "TodoWrite"
	toolExitPlanMode = "ExitPlanMode"
	toolWrite        = "Write"
)

// ExtractTodoUpdates returns one TodoUpdate per TodoWrite tool use found in
// assistant messages, in arrival order.
func ExtractTodoUpdates(events []Event) []TodoUpdate {
	var updates []TodoUpdate
	for i := range events {
		ev := &events[i]
		if ev.Type != TypeAssistant {
			continue
		}
		for _, block := range ev.ContentBlocks() {
			if block.Type != "tool_use" || block.Name != toolTodoWrite {
				continue
			}
			var input struct {
				Todos []TodoItem `json:"todos"`
			}
			if json.Unmarshal(block.Input, &input) != nil || input.Todos == nil {
				continue
			}
			updates = append(updates, TodoUpdate{
				SessionID: ev.SessionID,
				Todos:     input.Todos,
			})
		}
	}
	return updates
}

// ExtractPlanUpdates returns a PlanUpdate for every ExitPlanMode tool use
// and every Write to a plan file under .claude/plans/.
func ExtractPlanUpdates(events []Event) []PlanUpdate {
	var updates []PlanUpdate
	for i := range events {
		ev := &events[i]
		if ev.Type != TypeAssistant {
			continue
		}
		for _, block := range ev.ContentBlocks() {
			if block.Type != "tool_use" {
				continue
			}
			switch block.Name {
			case toolExitPlanMode:
				var input struct {
					Plan string `json:"plan"`
				}
				if json.Unmarshal(block.Input, &input) != nil || input.Plan == "" {
					continue
				}
				updates = append(updates, PlanUpdate{SessionID: ev.SessionID, Plan: input.Plan})
			case toolWrite:
				var input struct {
					FilePath string `json:"file_path"`
					Content  string `json:"content"`
				}
				if json.Unmarshal(block.Input, &input) != nil {
					continue
				}
				if !isPlanFile(input.FilePath) {
					continue
				}
				updates = append(updates, PlanUpdate{
					SessionID: ev.SessionID,
					Plan:      input.Content,
					PlanFile:  input.FilePath,
				})
			}
		}
	}
	return updates
}

// isPlanFile reports whether p is a markdown file under a .claude/plans dir.
func isPlanFile(p string) bool {
	if path.Ext(p) != ".md" {
		return false
	}
	return strings.Contains(p, "/.claude/plans/")
}

// ExtractToolUses returns every tool_use block as a ToolUse event.
// Duplicate tool-use ids across chunks are emitted each time; downstream
// dedupes if it cares.
func ExtractToolUses(events []Event) []ToolUse {
	var uses []ToolUse
	for i := range events {
		ev := &events[i]
		if ev.Type != TypeAssistant {
			continue
		}
		for _, block := range ev.ContentBlocks() {
			if block.Type != "tool_use" {
				continue
			}
			uses = append(uses, ToolUse{
				ID:        block.ID,
				Name:      block.Name,
				Input:     block.Input,
				SessionID: ev.SessionID,
			})
		}
	}
	return uses
}

// ExtractResult returns the last result event, scanning from the end.
func ExtractResult(events []Event) *Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == TypeResult {
			return &events[i]
		}
	}
	return nil
}

// ExtractSessionID returns the session id from the first system init event.
func ExtractSessionID(events []Event) string {
	for i := range events {
		if events[i].Type == TypeSystem && events[i].Subtype == "init" {
			return events[i].SessionID
		}
	}
	return ""
}

// IsComplete reports whether any result event is present.
func IsComplete(events []Event) bool {
	return ExtractResult(events) != nil
}

// HasError reports whether a result event carries is_error.
func HasError(events []Event) bool {
	res := ExtractResult(events)
	return res != nil && res.IsError
}
