// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration into running components and owns the
// daemon lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/conductor/internal/api"
	"github.com/wingedpig/conductor/internal/auth"
	"github.com/wingedpig/conductor/internal/bus"
	"github.com/wingedpig/conductor/internal/config"
	"github.com/wingedpig/conductor/internal/registry"
	"github.com/wingedpig/conductor/internal/rpc"
	"github.com/wingedpig/conductor/internal/sandbox"
	"github.com/wingedpig/conductor/internal/watcher"
)

// Options configure app construction.
type Options struct {
	ConfigPath string
	Host       string // overrides config
	Port       int    // overrides config
	Version    string
	Debug      bool
}

// App owns the daemon's components. Both pieces of process-wide mutable
// state — the session registry and its LRU cache — are constructed here
// and torn down in Run; nothing reaches them except through App.
type App struct {
	cfg      *config.Config
	bus      *bus.Bus
	registry *registry.Registry
	server   *api.Server
	watcher  *watcher.StateWatcher
	version  string
}

// New loads configuration and builds the component graph.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}

	historyAge, _ := time.ParseDuration(cfg.Events.HistoryMaxAge)
	eventBus := bus.New(bus.Config{
		HistoryMaxEvents: cfg.Events.HistoryMaxEvents,
		HistoryMaxAge:    historyAge,
	})

	if err := os.MkdirAll(cfg.Sessions.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	store := registry.NewFileStore(filepath.Join(cfg.Sessions.StateDir, "sessions.json"))

	reg, err := registry.New(registry.Config{
		Store:          store,
		Bus:            eventBus,
		Sandbox:        sandbox.NewLocal(),
		AgentCommand:   cfg.Sessions.AgentCommand,
		PipeDir:        cfg.Sessions.PipeDir,
		ConfigDir:      cfg.Sessions.StateDir,
		MaxSessions:    cfg.Sessions.MaxSessions,
		EvictCount:     cfg.Sessions.EvictCount,
		ValidationMode: registry.ValidationMode(cfg.Sessions.ValidationMode),
		DefaultModel:   cfg.Sessions.DefaultModel,
	})
	if err != nil {
		return nil, err
	}

	var gate *auth.Gate
	authenticator := auth.New(authConfig(cfg))
	var limiter *auth.Limiter
	if cfg.RateLimit.Enabled {
		limiter = auth.NewLimiter(auth.LimiterConfig{
			Window:      time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
			MaxRequests: cfg.RateLimit.MaxRequests,
		})
	}
	if authenticator.Enabled() || limiter != nil {
		gate = auth.NewGate(authenticator, limiter, cfg.Auth.SkipPaths)
	}

	facade := rpc.NewFacade(reg, eventBus, time.Duration(cfg.RPC.ResultTimeoutMs)*time.Millisecond)

	server := api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Registry: reg,
		Bus:      eventBus,
		Facade:   facade,
		Gate:     gate,
		Version:  opts.Version,
	})

	app := &App{
		cfg:      cfg,
		bus:      eventBus,
		registry: reg,
		server:   server,
		version:  opts.Version,
	}

	if cfg.Watch.Enabled {
		debounce, _ := time.ParseDuration(cfg.Watch.Debounce)
		w, err := watcher.NewStateWatcher(store.Path(), debounce, func() {
			if err := reg.Reload(); err != nil {
				log.Printf("app: registry reload: %v", err)
			}
		})
		if err != nil {
			log.Printf("app: state watcher disabled: %v", err)
		} else {
			app.watcher = w
		}
	}

	return app, nil
}

func authConfig(cfg *config.Config) auth.Config {
	ac := auth.Config{
		APIKey:  cfg.Auth.APIKey,
		APIKeys: cfg.Auth.APIKeys,
	}
	if cfg.Auth.JWT != nil {
		ac.JWT = &auth.JWTConfig{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		}
	}
	return ac
}

// Registry exposes the registry (used by tests and the ctl surface).
func (a *App) Registry() *registry.Registry { return a.registry }

// Run starts the server and blocks until a signal or server failure,
// then tears everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Printf("received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	<-ctx.Done()
	a.shutdown()
	return g.Wait()
}

// shutdown tears down in order: stop accepting work, kill processes,
// close the bus.
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.watcher != nil {
		a.watcher.Close()
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("app: server shutdown: %v", err)
	}
	a.registry.Shutdown()
	a.bus.Close()
}
