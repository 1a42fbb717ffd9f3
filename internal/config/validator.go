// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}

	if cfg.Auth.JWT != nil && cfg.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required when jwt is configured")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.WindowMs <= 0 {
			return fmt.Errorf("rate_limit.window_ms must be positive")
		}
		if cfg.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.max_requests must be positive")
		}
	}

	switch cfg.Sessions.ValidationMode {
	case "strict", "warn", "silent":
	default:
		return fmt.Errorf("sessions.validation_mode must be strict, warn, or silent")
	}
	if cfg.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions.max_sessions must be positive")
	}

	if _, err := time.ParseDuration(cfg.Events.HistoryMaxAge); err != nil {
		return fmt.Errorf("events.history_max_age: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}
	return nil
}
