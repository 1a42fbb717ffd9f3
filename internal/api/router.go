// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the HTTP surface: the duplex RPC endpoint, the
// batched RPC endpoint, and the diagnostic routes, behind the middleware
// chain and the auth/rate-limit gate.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/conductor/internal/api/handlers"
	"github.com/wingedpig/conductor/internal/api/middleware"
	"github.com/wingedpig/conductor/internal/auth"
	"github.com/wingedpig/conductor/internal/bus"
	"github.com/wingedpig/conductor/internal/registry"
	"github.com/wingedpig/conductor/internal/rpc"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string
	TLSKey  string
}

// Dependencies holds what the handlers need.
type Dependencies struct {
	Registry *registry.Registry
	Bus      *bus.Bus
	Facade   *rpc.Facade
	Gate     *auth.Gate
	Version  string
}

// NewRouter creates the API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Global middleware; the gate runs last so 401/429 responses still
	// get logging and panic recovery.
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	if deps.Gate != nil {
		r.Use(deps.Gate.Middleware)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	rpcHandler := handlers.NewRPCHandler(deps.Facade)
	api.HandleFunc("/rpc", rpcHandler.WebSocket).Methods("GET")
	api.HandleFunc("/rpc/batch", rpcHandler.Batch).Methods("POST")

	eventHandler := handlers.NewEventHandler(deps.Bus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")

	healthHandler := handlers.NewHealthHandler(deps.Registry, deps.Version)
	api.HandleFunc("/healthz", healthHandler.Healthz).Methods("GET")
	api.HandleFunc("/status", healthHandler.Status).Methods("GET")

	return r
}

// Server is the API HTTP server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates an API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router (used by tests).
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server, with TLS when a cert/key pair is
// configured.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		log.Printf("API server listening on https://%s", addr)
		return s.server.ListenAndServeTLS(expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
