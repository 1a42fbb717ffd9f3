// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the conductor.hjson configuration.
package config

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Sessions  SessionsConfig  `json:"sessions"`
	RPC       RPCConfig       `json:"rpc"`
	Events    EventsConfig    `json:"events"`
	Watch     WatchConfig     `json:"watch"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// AuthConfig configures the edge authentication. Leaving every field
// empty disables authentication (local development).
type AuthConfig struct {
	APIKey    string     `json:"api_key"`
	APIKeys   []string   `json:"api_keys"`
	JWT       *JWTConfig `json:"jwt"`
	SkipPaths []string   `json:"skip_paths"`
}

// JWTConfig configures JWT validation.
type JWTConfig struct {
	Secret   string `json:"secret"`
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	Enabled     bool `json:"enabled"`
	WindowMs    int  `json:"window_ms"`
	MaxRequests int  `json:"max_requests"`
}

// SessionsConfig configures the registry and process manager.
type SessionsConfig struct {
	StateDir       string `json:"state_dir"`
	PipeDir        string `json:"pipe_dir"`
	AgentCommand   string `json:"agent_command"`
	DefaultModel   string `json:"default_model"`
	MaxSessions    int    `json:"max_sessions"`
	EvictCount     int    `json:"evict_count"`
	ValidationMode string `json:"validation_mode"` // strict | warn | silent
}

// RPCConfig holds the RPC timeouts. ResultTimeoutMs bounds how long a
// callback call waits for a terminal event; CallTimeoutMs is given a
// default but is not read by the server.
type RPCConfig struct {
	CallTimeoutMs   int `json:"call_timeout_ms"`
	ResultTimeoutMs int `json:"result_timeout_ms"`
}

// EventsConfig configures the bus history.
type EventsConfig struct {
	HistoryMaxEvents int    `json:"history_max_events"`
	HistoryMaxAge    string `json:"history_max_age"`
}

// WatchConfig configures the state-file watcher.
type WatchConfig struct {
	Enabled  bool   `json:"enabled"`
	Debounce string `json:"debounce"`
}
