// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proc manages the one agent process a session may own: its named
// input pipe, its log stream, and the pump that turns log bytes into bus
// events.
package proc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/conductor/internal/bus"
	"github.com/wingedpig/conductor/internal/sandbox"
	"github.com/wingedpig/conductor/internal/stream"
)

var (
	// ErrAlreadyRunning is returned when a session already owns a live
	// process.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrNotRunning is returned for operations that need a live process.
	ErrNotRunning = errors.New("process not running")

	// ErrDeadPipe is a recoverable write failure: the input pipe has no
	// reader. The registry restarts the process and retries.
	ErrDeadPipe = errors.New("input pipe has no reader")
)

// Hooks are invoked by the log pump. All are optional.
type Hooks struct {
	// OnInit fires on the agent's system init event with the agent's own
	// session id (used for resume).
	OnInit func(sessionID, agentSessionID string)
	// OnResult fires on a terminal result event.
	OnResult func(sessionID string, ev stream.Event)
	// OnError fires at most once per start, when the log stream errors or
	// closes before a result.
	OnError func(sessionID string, info stream.ErrorInfo)
}

// Info is an exported snapshot of a session's process record.
type Info struct {
	ProcessID string `json:"process_id"`
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	PipePath  string `json:"pipe_path"`
	Alive     bool   `json:"alive"`
}

// Manager owns at most one process record per session.
type Manager struct {
	mu      sync.Mutex
	sb      sandbox.Sandbox
	bus     *bus.Bus
	pipeDir string
	hooks   Hooks
	procs   map[string]*agentProcess
}

// agentProcess is the per-session process record.
type agentProcess struct {
	sessionID string
	proc      sandbox.Process
	pipePath  string
	parser    *stream.Parser
	gen       int

	mu          sync.Mutex
	alive       bool
	resultSeen  bool
	interrupted bool
	errOnce     sync.Once
}

// NewManager creates a process manager. pipeDir holds the per-session
// input pipes.
func NewManager(sb sandbox.Sandbox, b *bus.Bus, pipeDir string, hooks Hooks) *Manager {
	if pipeDir == "" {
		pipeDir = os.TempDir()
	}
	return &Manager{
		sb:      sb,
		bus:     b,
		pipeDir: pipeDir,
		hooks:   hooks,
		procs:   make(map[string]*agentProcess),
	}
}

// PipePath returns the input pipe path for a session. The path contains
// the session id, so no two sessions can share a pipe.
func (m *Manager) PipePath(sessionID string) string {
	return filepath.Join(m.pipeDir, "conductor_input_"+sessionID)
}

// Start creates the session's input pipe, launches the agent command, and
// begins pumping its log stream onto the bus. buildCommand receives the
// pipe path and returns the full shell command. Exactly one error handler
// is attached per start; restarting does not accumulate handlers.
func (m *Manager) Start(sessionID string, buildCommand func(pipePath string) string, env map[string]string) error {
	m.mu.Lock()
	if existing, ok := m.procs[sessionID]; ok && existing.isAlive() {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	gen := 0
	if existing, ok := m.procs[sessionID]; ok {
		gen = existing.gen + 1
	}
	m.mu.Unlock()

	pipePath := m.PipePath(sessionID)
	if err := makePipe(pipePath); err != nil {
		return err
	}

	proc, err := m.sb.StartProcess(buildCommand(pipePath), sandbox.StartOptions{Env: env})
	if err != nil {
		os.Remove(pipePath)
		return fmt.Errorf("start agent: %w", err)
	}

	ap := &agentProcess{
		sessionID: sessionID,
		proc:      proc,
		pipePath:  pipePath,
		parser:    stream.NewParser(),
		gen:       gen,
		alive:     true,
	}

	m.mu.Lock()
	m.procs[sessionID] = ap
	m.mu.Unlock()

	logs, err := m.sb.StreamProcessLogs(proc.ID())
	if err != nil {
		// No log multiplexing in this sandbox; stdout is the log stream.
		logs = proc.Stdout()
	}
	go m.pump(ap, logs)

	return nil
}

// makePipe creates a fresh named pipe, replacing any stale one.
func makePipe(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pipe dir: %w", err)
	}
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("create input pipe: %w", err)
	}
	return nil
}

// pipeMessage is the JSON line format written to the agent's input pipe.
type pipeMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string                `json:"role"`
		Content []stream.ContentBlock `json:"content"`
	} `json:"message"`
}

// Write appends text as a single JSON-encoded user message line to the
// session's input pipe. A pipe without a reader fails fast with
// ErrDeadPipe so the caller can restart.
func (m *Manager) Write(sessionID, text string) error {
	m.mu.Lock()
	ap, ok := m.procs[sessionID]
	m.mu.Unlock()
	if !ok || !ap.isAlive() {
		return ErrNotRunning
	}

	msg := pipeMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = []stream.ContentBlock{{Type: "text", Text: text}}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(ap.pipePath, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) || os.IsNotExist(err) {
			return ErrDeadPipe
		}
		return fmt.Errorf("open input pipe: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return ErrDeadPipe
		}
		return fmt.Errorf("write input pipe: %w", err)
	}
	return nil
}

// Kill terminates the session's process. Tolerant of already-dead and
// unknown sessions; other sessions are unaffected.
func (m *Manager) Kill(sessionID string) error {
	m.mu.Lock()
	ap, ok := m.procs[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	ap.mu.Lock()
	ap.interrupted = true
	ap.mu.Unlock()

	return ap.proc.Kill()
}

// IsAlive reports whether the session owns a live process.
func (m *Manager) IsAlive(sessionID string) bool {
	m.mu.Lock()
	ap, ok := m.procs[sessionID]
	m.mu.Unlock()
	return ok && ap.isAlive() && ap.proc.Alive()
}

// Get returns the session's process record, if any.
func (m *Manager) Get(sessionID string) (Info, bool) {
	m.mu.Lock()
	ap, ok := m.procs[sessionID]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return Info{
		ProcessID: ap.proc.ID(),
		SessionID: sessionID,
		PID:       ap.proc.PID(),
		PipePath:  ap.pipePath,
		Alive:     ap.isAlive() && ap.proc.Alive(),
	}, true
}

// Shutdown kills every live process and removes its pipe.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	procs := make([]*agentProcess, 0, len(m.procs))
	for _, ap := range m.procs {
		procs = append(procs, ap)
	}
	m.mu.Unlock()

	for _, ap := range procs {
		ap.mu.Lock()
		ap.interrupted = true
		ap.mu.Unlock()
		ap.proc.Kill()
		os.Remove(ap.pipePath)
	}
}

func (ap *agentProcess) isAlive() bool {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.alive
}

// pump reads the log stream, parses NDJSON events, and dispatches them
// onto the bus under keys scoped by this session's id. When the stream
// ends before a result, exactly one error event is emitted.
func (m *Manager) pump(ap *agentProcess, logs io.Reader) {
	buf := make([]byte, 32*1024)
	var streamErr error
	for {
		n, err := logs.Read(buf)
		if n > 0 {
			m.dispatch(ap, ap.parser.Parse(buf[:n]))
		}
		if err != nil {
			if err != io.EOF {
				streamErr = err
			}
			break
		}
	}
	m.dispatch(ap, ap.parser.Flush())

	// A newer start may have replaced this record; only the current
	// generation cleans up.
	current := false
	m.mu.Lock()
	if cur, ok := m.procs[ap.sessionID]; ok && cur.gen == ap.gen {
		current = true
	}
	m.mu.Unlock()

	ap.mu.Lock()
	ap.alive = false
	resultSeen := ap.resultSeen
	interrupted := ap.interrupted
	ap.mu.Unlock()

	if current {
		os.Remove(ap.pipePath)
	}

	if resultSeen && streamErr == nil {
		return
	}
	if resultSeen && streamErr != nil {
		log.Printf("proc [%s]: log stream error after result: %v", ap.sessionID, streamErr)
		return
	}

	// Stream ended before a result: surface exactly one error.
	msg := "log stream closed before result"
	code := "stream-closed"
	if interrupted {
		msg = "interrupted"
		code = "interrupted"
	} else if streamErr != nil {
		msg = streamErr.Error()
		code = "stream-error"
	}
	ap.errOnce.Do(func() {
		info := stream.ErrorInfo{Message: msg, Code: code, Timestamp: time.Now()}
		m.bus.Emit(bus.Key(bus.KindError, ap.sessionID), info)
		if m.hooks.OnError != nil {
			m.hooks.OnError(ap.sessionID, info)
		}
	})
}

// dispatch routes parsed events and their derived updates onto the bus.
// Keys always use the registry session id, never the agent's own id.
func (m *Manager) dispatch(ap *agentProcess, events []stream.Event) {
	for i := range events {
		ev := events[i]
		sid := ap.sessionID

		m.bus.Emit(bus.Key(bus.KindOutput, sid), ev)

		if ev.Type == stream.TypeSystem && ev.Subtype == "init" && ev.SessionID != "" {
			if m.hooks.OnInit != nil {
				m.hooks.OnInit(sid, ev.SessionID)
			}
		}

		single := events[i : i+1]
		for _, todo := range stream.ExtractTodoUpdates(single) {
			todo.SessionID = sid
			m.bus.Emit(bus.Key(bus.KindTodo, sid), todo)
		}
		for _, plan := range stream.ExtractPlanUpdates(single) {
			plan.SessionID = sid
			m.bus.Emit(bus.Key(bus.KindPlan, sid), plan)
		}
		for _, use := range stream.ExtractToolUses(single) {
			use.SessionID = sid
			m.bus.Emit(bus.Key(bus.KindTool, sid), use)
		}

		if ev.Type == stream.TypeResult {
			ap.mu.Lock()
			ap.resultSeen = true
			ap.mu.Unlock()
			m.bus.Emit(bus.Key(bus.KindResult, sid), ev)
			if m.hooks.OnResult != nil {
				m.hooks.OnResult(sid, ev)
			}
		}
	}
}
