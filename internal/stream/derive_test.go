// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assistantEvent(t *testing.T, sessionID string, blocks ...ContentBlock) Event {
	t.Helper()
	msg, err := json.Marshal(ParsedMessage{Role: "assistant", Content: blocks})
	require.NoError(t, err)
	return Event{Type: TypeAssistant, SessionID: sessionID, Message: msg}
}

func toolBlock(id, name, input string) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestExtractTodoUpdates(t *testing.T) {
	events := []Event{
		assistantEvent(t, "s1",
			toolBlock("t1", "TodoWrite", `{"todos":[{"content":"a","status":"pending"},{"content":"b","status":"in_progress","active_form":"doing b"}]}`),
		),
		assistantEvent(t, "s1", ContentBlock{Type: "text", Text: "hi"}),
	}

	updates := ExtractTodoUpdates(events)
	require.Len(t, updates, 1)
	assert.Equal(t, "s1", updates[0].SessionID)
	require.Len(t, updates[0].Todos, 2)
	assert.Equal(t, "a", updates[0].Todos[0].Content)
	assert.Equal(t, TodoPending, updates[0].Todos[0].Status)
	assert.Equal(t, "doing b", updates[0].Todos[1].ActiveForm)
}

func TestExtractTodoUpdates_BadShapeSkipped(t *testing.T) {
	events := []Event{
		assistantEvent(t, "s1", toolBlock("t1", "TodoWrite", `{"nope":true}`)),
	}
	assert.Empty(t, ExtractTodoUpdates(events))
}

func TestExtractPlanUpdates_ExitPlanMode(t *testing.T) {
	events := []Event{
		assistantEvent(t, "s1", toolBlock("t1", "ExitPlanMode", `{"plan":"the plan"}`)),
	}
	updates := ExtractPlanUpdates(events)
	require.Len(t, updates, 1)
	assert.Equal(t, "the plan", updates[0].Plan)
	assert.Empty(t, updates[0].PlanFile)
}

func TestExtractPlanUpdates_PlanFileWrite(t *testing.T) {
	events := []Event{
		assistantEvent(t, "s1", toolBlock("t1", "Write",
			`{"file_path":"/home/u/.claude/plans/feature.md","content":"# plan"}`)),
		// Writes elsewhere are not plans.
		assistantEvent(t, "s1", toolBlock("t2", "Write",
			`{"file_path":"/home/u/notes.md","content":"x"}`)),
		// Non-markdown plan paths are not plans.
		assistantEvent(t, "s1", toolBlock("t3", "Write",
			`{"file_path":"/home/u/.claude/plans/feature.txt","content":"x"}`)),
	}
	updates := ExtractPlanUpdates(events)
	require.Len(t, updates, 1)
	assert.Equal(t, "# plan", updates[0].Plan)
	assert.Equal(t, "/home/u/.claude/plans/feature.md", updates[0].PlanFile)
}

func TestExtractToolUses_DuplicatesEmittedEachTime(t *testing.T) {
	events := []Event{
		assistantEvent(t, "s1", toolBlock("t1", "Bash", `{"command":"ls"}`)),
		assistantEvent(t, "s1", toolBlock("t1", "Bash", `{"command":"ls"}`)),
	}
	uses := ExtractToolUses(events)
	require.Len(t, uses, 2)
	assert.Equal(t, uses[0].ID, uses[1].ID)
	assert.Equal(t, "Bash", uses[0].Name)
	assert.Equal(t, "s1", uses[0].SessionID)
}

func TestExtractResult_ScansFromEnd(t *testing.T) {
	events := []Event{
		{Type: TypeResult, UUID: "r1"},
		{Type: TypeAssistant},
		{Type: TypeResult, UUID: "r2"},
		{Type: TypeUser},
	}
	res := ExtractResult(events)
	require.NotNil(t, res)
	assert.Equal(t, "r2", res.UUID)

	assert.Nil(t, ExtractResult([]Event{{Type: TypeAssistant}}))
}

func TestExtractSessionID(t *testing.T) {
	events := []Event{
		{Type: TypeSystem, Subtype: "status", SessionID: "wrong"},
		{Type: TypeSystem, Subtype: "init", SessionID: "s1"},
		{Type: TypeSystem, Subtype: "init", SessionID: "s2"},
	}
	assert.Equal(t, "s1", ExtractSessionID(events))
	assert.Equal(t, "", ExtractSessionID(nil))
}

func TestIsCompleteAndHasError(t *testing.T) {
	assert.False(t, IsComplete([]Event{{Type: TypeAssistant}}))
	assert.True(t, IsComplete([]Event{{Type: TypeResult}}))

	assert.False(t, HasError([]Event{{Type: TypeResult, IsError: false}}))
	assert.True(t, HasError([]Event{{Type: TypeResult, IsError: true}}))
}

func TestDerivers_ManyEvents(t *testing.T) {
	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, assistantEvent(t, "s1",
			toolBlock(fmt.Sprintf("t%d", i), "Read", `{"file_path":"/x"}`)))
	}
	assert.Len(t, ExtractToolUses(events), 10)
}
