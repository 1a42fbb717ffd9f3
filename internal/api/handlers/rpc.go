// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/wingedpig/conductor/internal/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RPCHandler serves the framed RPC protocol over both transports: the
// long-lived duplex websocket and the batched single-call POST.
type RPCHandler struct {
	facade *rpc.Facade
}

// NewRPCHandler creates the RPC handler.
func NewRPCHandler(facade *rpc.Facade) *RPCHandler {
	return &RPCHandler{facade: facade}
}

// WebSocket upgrades the connection and serves frames until it closes.
func (h *RPCHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	rpc.NewServerConn(conn, h.facade).Serve(r.Context())
}

// Batch executes a single call per POST. Callback capabilities are not
// supported here; the facade rejects them.
func (h *RPCHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var frame rpc.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "malformed frame: "+err.Error())
		return
	}
	if !frame.IsRequest() {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "frame has no method")
		return
	}

	result, rpcErr := h.facade.Dispatch(r.Context(), frame.Method, frame.Args, nil)

	response := rpc.Frame{ID: frame.ID, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			response.Error = &rpc.Error{Code: rpc.CodeInternal, Message: err.Error()}
		} else {
			response.Result = data
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if response.Error != nil {
		switch response.Error.Code {
		case rpc.CodeNotFound:
			status = http.StatusNotFound
		case rpc.CodeInvalidArgument:
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
