// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/conductor/internal/bus"
	"github.com/wingedpig/conductor/internal/cache"
	"github.com/wingedpig/conductor/internal/proc"
	"github.com/wingedpig/conductor/internal/sandbox"
	"github.com/wingedpig/conductor/internal/stream"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Config configures a Registry.
type Config struct {
	Store          Store
	Bus            *bus.Bus
	Sandbox        sandbox.Sandbox
	AgentCommand   string // base agent command, e.g. "claude"
	PipeDir        string
	ConfigDir      string // where per-session MCP config files are written
	MaxSessions    int    // in-memory cache bound
	EvictCount     int
	ValidationMode ValidationMode
	DefaultModel   string
}

// Registry is the persisted session map. Every mutation acquires the
// single registry mutex, produces the new state, writes it to the store,
// and only then publishes derived events. Readers see the last committed
// snapshot without blocking writers.
type Registry struct {
	// mu is the one process-wide mutex serializing registry mutations.
	mu    sync.Mutex
	store Store
	cache *cache.Cache
	bus   *bus.Bus
	sb    sandbox.Sandbox
	procs *proc.Manager

	agentCommand   string
	configDir      string
	validationMode ValidationMode
	defaultModel   string
}

// New creates a Registry and its process manager.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("registry: store required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("registry: bus required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("registry: sandbox required")
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = "claude"
	}
	if cfg.ValidationMode == "" {
		cfg.ValidationMode = ValidationWarn
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = cfg.PipeDir
	}

	r := &Registry{
		store:          cfg.Store,
		bus:            cfg.Bus,
		sb:             cfg.Sandbox,
		agentCommand:   cfg.AgentCommand,
		configDir:      cfg.ConfigDir,
		validationMode: cfg.ValidationMode,
		defaultModel:   cfg.DefaultModel,
	}
	r.cache = cache.New(cache.Config{
		MaxSessions: cfg.MaxSessions,
		EvictCount:  cfg.EvictCount,
		OnEvict: func(id string, _ interface{}) {
			// Eviction drops in-memory state only; the store keeps the
			// session, and a later Get falls through to it.
			log.Printf("registry: evicted session %s from memory", id)
		},
	})
	r.procs = proc.NewManager(cfg.Sandbox, cfg.Bus, cfg.PipeDir, proc.Hooks{
		OnInit:   r.noteAgentSession,
		OnResult: r.noteResult,
		OnError:  r.noteError,
	})

	if err := r.loadFromStore(); err != nil {
		return nil, err
	}
	return r, nil
}

// Processes exposes the process manager (for shutdown wiring).
func (r *Registry) Processes() *proc.Manager { return r.procs }

// CacheStats exposes the LRU counters.
func (r *Registry) CacheStats() cache.Stats { return r.cache.Stats() }

// loadFromStore warms the cache with persisted sessions.
func (r *Registry) loadFromStore() error {
	sessions, err := r.store.List()
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	for _, sess := range sessions {
		r.cache.Set(sess.ID, sess)
	}
	if len(sessions) > 0 {
		log.Printf("registry: loaded %d persisted sessions", len(sessions))
	}
	return nil
}

// Reload re-reads the store after an external change to the state file.
// Sessions with a live process keep their in-memory view; everything else
// is refreshed from disk.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.List()
	if err != nil {
		return fmt.Errorf("reload sessions: %w", err)
	}
	seen := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		seen[sess.ID] = true
		if r.procs.IsAlive(sess.ID) {
			continue
		}
		r.cache.Set(sess.ID, sess)
	}
	for _, id := range r.cache.Keys() {
		if !seen[id] && !r.procs.IsAlive(id) {
			r.cache.Delete(id)
		}
	}
	return nil
}

// Create validates options, generates a fresh id, persists the new
// session, and returns it.
func (r *Registry) Create(raw map[string]interface{}) (*Session, error) {
	opts, err := ParseOptions(raw, r.validationMode)
	if err != nil {
		return nil, err
	}
	return r.CreateFromOptions(opts)
}

// CreateFromOptions creates a session from already-validated options.
func (r *Registry) CreateFromOptions(opts *Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	sess := &Session{
		ID:                     uuid.New().String(),
		Status:                 StatusActive,
		CreatedAt:              now,
		LastActivityAt:         now,
		CWD:                    opts.CWD,
		Model:                  opts.Model,
		FallbackModel:          opts.FallbackModel,
		SystemPrompt:           opts.SystemPrompt,
		Tools:                  opts.Tools,
		AllowedTools:           opts.AllowedTools,
		DisallowedTools:        opts.DisallowedTools,
		PermissionMode:         opts.PermissionMode,
		MaxTurns:               opts.MaxTurns,
		MaxBudgetUSD:           opts.MaxBudgetUSD,
		MaxThinkingTokens:      opts.MaxThinkingTokens,
		AgentSessionID:         opts.Resume,
		IncludePartialMessages: opts.IncludePartialMessages,
		Env:                    opts.Env,
	}
	if sess.Model == "" {
		sess.Model = r.defaultModel
	}
	if sess.PermissionMode == "" {
		sess.PermissionMode = PermissionDefault
	}
	for name, cfg := range opts.MCPServers {
		sess.MCPServers = append(sess.MCPServers, MCPServer{
			Name:   name,
			Config: cfg,
			Status: MCPPending,
		})
	}

	if err := r.store.Put(sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	r.cache.Set(sess.ID, sess)
	return sess.Clone(), nil
}

// Get returns a session snapshot, or nil when unknown. It never blocks
// writers beyond the brief cache/store read.
func (r *Registry) Get(id string) (*Session, error) {
	if data, ok := r.cache.Get(id); ok {
		return data.(*Session).Clone(), nil
	}
	sess, ok, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	r.cache.Set(id, sess)
	return sess.Clone(), nil
}

// Resume returns an interrupted/completed session to active.
func (r *Registry) Resume(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	sess.Status = StatusActive
	sess.Error = nil
	sess.LastActivityAt = time.Now()
	if err := r.commitLocked(sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// List returns a snapshot of every persisted session.
func (r *Registry) List() ([]*Session, error) {
	return r.store.List()
}

// Destroy terminates any live process for id and removes the session.
// Destroying an unknown id is not an error: the operation is idempotent.
func (r *Registry) Destroy(id string) error {
	// Kill outside the registry mutex; a wedged process must not starve
	// other sessions' mutations.
	if err := r.procs.Kill(id); err != nil {
		log.Printf("registry: kill during destroy of %s: %v", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(id)
	if err := r.store.Delete(id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	r.bus.DropSession(id)
	return nil
}

// SendMessage stamps activity, starts the agent process if none is live,
// and writes the message to the session's input pipe. Sends to different
// sessions never serialize on each other's process I/O: the registry
// mutex covers only the metadata commit.
func (r *Registry) SendMessage(ctx context.Context, id, text string) error {
	r.mu.Lock()
	sess, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	sess.LastActivityAt = time.Now()
	sess.Status = StatusActive
	sess.Error = nil
	if err := r.commitLocked(sess); err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := sess.Clone()
	r.mu.Unlock()

	if !r.procs.IsAlive(id) {
		if err := r.startProcess(ctx, snapshot); err != nil {
			return err
		}
	}

	err = r.procs.Write(id, text)
	if errors.Is(err, proc.ErrDeadPipe) || errors.Is(err, proc.ErrNotRunning) {
		// Recoverable: the process died under us. Restart once and retry.
		if err := r.startProcess(ctx, snapshot); err != nil {
			return err
		}
		err = r.procs.Write(id, text)
	}
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Interrupt kills the session's live process and marks it interrupted.
func (r *Registry) Interrupt(id string) error {
	r.mu.Lock()
	sess, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	sess.Status = StatusInterrupted
	sess.LastActivityAt = time.Now()
	commitErr := r.commitLocked(sess)
	r.mu.Unlock()
	if commitErr != nil {
		return commitErr
	}

	return r.procs.Kill(id)
}

// SetPermissionMode mutates one session's permission mode.
func (r *Registry) SetPermissionMode(id string, mode PermissionMode) error {
	if !ValidPermissionMode(mode) {
		return &ValidationError{Field: "permissionMode", Message: "unknown permission mode"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	sess.PermissionMode = mode
	return r.commitLocked(sess)
}

// Models returns the static supported-model list.
func (r *Registry) Models() []ModelInfo {
	return SupportedModels
}

// MCPServerStatus projects a session's MCP servers to name/status pairs.
func (r *Registry) MCPServerStatus(id string) ([]MCPStatus, error) {
	sess, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	result := make([]MCPStatus, 0, len(sess.MCPServers))
	for _, server := range sess.MCPServers {
		result = append(result, MCPStatus{Name: server.Name, Status: server.Status})
	}
	return result, nil
}

// IsProcessAlive reports whether the session owns a live agent process.
func (r *Registry) IsProcessAlive(id string) bool {
	return r.procs.IsAlive(id)
}

// Shutdown kills every live process.
func (r *Registry) Shutdown() {
	r.procs.Shutdown()
}

// lookupLocked fetches the mutable session. Must hold the registry mutex.
func (r *Registry) lookupLocked(id string) (*Session, error) {
	if data, ok := r.cache.Get(id); ok {
		return data.(*Session), nil
	}
	sess, ok, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	r.cache.Set(id, sess)
	return sess, nil
}

// commitLocked persists the mutated session; the in-memory and persisted
// views are equal once it returns. Must hold the registry mutex.
func (r *Registry) commitLocked(sess *Session) error {
	if err := r.store.Put(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	r.cache.Set(sess.ID, sess)
	return nil
}

// noteAgentSession records the agent's own session id from its init event.
func (r *Registry) noteAgentSession(id, agentSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.lookupLocked(id)
	if err != nil {
		return
	}
	if sess.AgentSessionID == agentSessionID {
		return
	}
	sess.AgentSessionID = agentSessionID
	for i := range sess.MCPServers {
		if sess.MCPServers[i].Status == MCPPending {
			sess.MCPServers[i].Status = MCPConnected
		}
	}
	if err := r.commitLocked(sess); err != nil {
		log.Printf("registry: persist agent session id for %s: %v", id, err)
	}
}

// noteResult folds a terminal result event into the session counters.
// The result event has already been published; this is the status
// transition out of active.
func (r *Registry) noteResult(id string, ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.lookupLocked(id)
	if err != nil {
		return
	}
	if ev.NumTurns > 0 {
		sess.TurnCount += ev.NumTurns
	} else {
		sess.TurnCount++
	}
	sess.TotalCostUSD += ev.TotalCostUSD
	if ev.Usage != nil {
		sess.Usage.InputTokens += ev.Usage.InputTokens
		sess.Usage.OutputTokens += ev.Usage.OutputTokens
	}
	sess.LastActivityAt = time.Now()
	if sess.Status == StatusActive {
		if ev.IsError {
			sess.Status = StatusError
			sess.Error = &stream.ErrorInfo{
				Message:   resultErrorMessage(ev),
				Code:      ev.Subtype,
				Timestamp: time.Now(),
			}
		} else {
			sess.Status = StatusCompleted
		}
	}
	if err := r.commitLocked(sess); err != nil {
		log.Printf("registry: persist result for %s: %v", id, err)
	}
}

func resultErrorMessage(ev stream.Event) string {
	if ev.Result != "" {
		return ev.Result
	}
	if ev.Subtype != "" {
		return ev.Subtype
	}
	return "agent reported an error"
}

// noteError records a fatal-to-session stream error.
func (r *Registry) noteError(id string, info stream.ErrorInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.lookupLocked(id)
	if err != nil {
		return
	}
	if sess.Status == StatusInterrupted && info.Code == "interrupted" {
		// Interrupt already transitioned the session; keep that status.
		if err := r.commitLocked(sess); err != nil {
			log.Printf("registry: persist interrupt for %s: %v", id, err)
		}
		return
	}
	sess.Status = StatusError
	sess.Error = &info
	if err := r.commitLocked(sess); err != nil {
		log.Printf("registry: persist error for %s: %v", id, err)
	}
}

// startProcess writes any MCP config, builds the agent command, and
// starts it for the session.
func (r *Registry) startProcess(ctx context.Context, sess *Session) error {
	configPath := ""
	if len(sess.MCPServers) > 0 {
		path := filepath.Join(r.configDir, "conductor_mcp_"+sess.ID+".json")
		payload := map[string]interface{}{"mcpServers": mcpConfigPayload(sess.MCPServers)}
		command, err := ConfigWriteCommand(path, payload)
		if err != nil {
			return fmt.Errorf("build mcp config: %w", err)
		}
		if _, err := r.sb.Exec(ctx, command, sandbox.ExecOptions{Timeout: 10 * time.Second}); err != nil {
			return fmt.Errorf("write mcp config: %w", err)
		}
		configPath = path
	}

	err := r.procs.Start(sess.ID, func(pipePath string) string {
		cmd, buildErr := r.buildAgentCommand(sess, pipePath, configPath)
		if buildErr != nil {
			// Quoting failures were rejected at validation; this is a
			// should-not-happen guard.
			log.Printf("registry: build command for %s: %v", sess.ID, buildErr)
			return "false"
		}
		return cmd
	}, sess.Env)
	if errors.Is(err, proc.ErrAlreadyRunning) {
		return nil
	}
	return err
}

// mcpConfigPayload renders MCP servers in the agent's config file shape.
func mcpConfigPayload(servers []MCPServer) map[string]MCPServerConfig {
	payload := make(map[string]MCPServerConfig, len(servers))
	for _, server := range servers {
		payload[server.Name] = server.Config
	}
	return payload
}

// buildAgentCommand assembles the shell command that runs the agent for a
// session, reading user messages from the named input pipe. Every
// externally-supplied value is single-quote escaped.
func (r *Registry) buildAgentCommand(sess *Session, pipePath, configPath string) (string, error) {
	var parts []string
	parts = append(parts,
		r.agentCommand,
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	)

	quoteArg := func(flag, value string) error {
		quoted, err := ShellQuote(value)
		if err != nil {
			return fmt.Errorf("%s: %w", flag, err)
		}
		parts = append(parts, flag, quoted)
		return nil
	}

	if sess.Model != "" {
		if err := quoteArg("--model", sess.Model); err != nil {
			return "", err
		}
	}
	if sess.FallbackModel != "" {
		if err := quoteArg("--fallback-model", sess.FallbackModel); err != nil {
			return "", err
		}
	}
	if sess.PermissionMode != "" {
		if err := quoteArg("--permission-mode", string(sess.PermissionMode)); err != nil {
			return "", err
		}
	}
	if sess.MaxTurns > 0 {
		parts = append(parts, "--max-turns", strconv.Itoa(sess.MaxTurns))
	}
	if sess.MaxBudgetUSD > 0 {
		parts = append(parts, "--max-budget-usd", strconv.FormatFloat(sess.MaxBudgetUSD, 'f', -1, 64))
	}
	if sess.MaxThinkingTokens > 0 {
		parts = append(parts, "--max-thinking-tokens", strconv.Itoa(sess.MaxThinkingTokens))
	}
	if sess.SystemPrompt != nil {
		if sess.SystemPrompt.Text != "" {
			if err := quoteArg("--system-prompt", sess.SystemPrompt.Text); err != nil {
				return "", err
			}
		}
		if sess.SystemPrompt.Append != "" {
			if err := quoteArg("--append-system-prompt", sess.SystemPrompt.Append); err != nil {
				return "", err
			}
		}
	}
	if len(sess.AllowedTools) > 0 {
		if err := quoteArg("--allowed-tools", strings.Join(sess.AllowedTools, ",")); err != nil {
			return "", err
		}
	}
	if len(sess.DisallowedTools) > 0 {
		if err := quoteArg("--disallowed-tools", strings.Join(sess.DisallowedTools, ",")); err != nil {
			return "", err
		}
	}
	if sess.Tools != nil && len(sess.Tools.List) > 0 {
		if err := quoteArg("--tools", strings.Join(sess.Tools.List, ",")); err != nil {
			return "", err
		}
	}
	if configPath != "" {
		if err := quoteArg("--mcp-config", configPath); err != nil {
			return "", err
		}
	}
	if sess.AgentSessionID != "" {
		if err := quoteArg("--resume", sess.AgentSessionID); err != nil {
			return "", err
		}
	}
	if sess.IncludePartialMessages {
		parts = append(parts, "--include-partial-messages")
	}

	quotedPipe, err := ShellQuote(pipePath)
	if err != nil {
		return "", fmt.Errorf("pipe path: %w", err)
	}
	command := strings.Join(parts, " ") + " < " + quotedPipe

	if sess.CWD != "" {
		quotedCWD, err := ShellQuote(sess.CWD)
		if err != nil {
			return "", fmt.Errorf("cwd: %w", err)
		}
		command = "cd " + quotedCWD + " && " + command
	}
	return command, nil
}
