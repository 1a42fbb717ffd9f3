// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wingedpig/conductor/internal/bus"
)

// EventHandler serves the bus's diagnostic event history.
type EventHandler struct {
	bus *bus.Bus
}

// NewEventHandler creates an event handler.
func NewEventHandler(b *bus.Bus) *EventHandler {
	return &EventHandler{bus: b}
}

// History returns past bus events, filterable by key, kind prefix,
// since-time, and limit.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := bus.HistoryFilter{
		Key: query.Get("key"),
	}
	if kind := query.Get("kind"); kind != "" {
		filter.KeyPrefix = kind + ":"
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if sinceStr := query.Get("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = t
		}
	}

	WriteJSON(w, http.StatusOK, h.bus.History(filter))
}
