// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/wingedpig/conductor/internal/registry"
)

// HealthHandler serves liveness and daemon status.
type HealthHandler struct {
	reg     *registry.Registry
	version string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(reg *registry.Registry, version string) *HealthHandler {
	return &HealthHandler{reg: reg, version: version}
}

// Healthz is the unauthenticated liveness probe.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// Status reports session counts and cache statistics.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.reg.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":  h.version,
		"sessions": len(sessions),
		"cache":    h.reg.CacheStats(),
	})
}
