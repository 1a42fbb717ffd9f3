// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/conductor/internal/app"
	"github.com/wingedpig/conductor/internal/config"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("conductor %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
		Debug:      debug,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "conductor init" command.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: conductor init

Create a conductor.hjson configuration file in the current directory.
The generated file is commented so the available options are easy to
discover and adjust.`)
		return nil
	}

	const path = "conductor.hjson"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

const starterConfig = `{
  // HTTP listener for the RPC endpoint.
  server: {
    host: 127.0.0.1
    port: 7433
    // tls_cert: ~/certs/conductor.crt
    // tls_key: ~/certs/conductor.key
  }

  // Edge authentication. Leave empty to disable (local development).
  auth: {
    // api_key: change-me
    // jwt: { secret: change-me, issuer: "", audience: "" }
    skip_paths: ["/api/v1/healthz"]
  }

  // Sliding-window rate limit per client.
  rate_limit: {
    enabled: false
    window_ms: 60000
    max_requests: 120
  }

  // Session registry and agent process management.
  sessions: {
    state_dir: .conductor
    agent_command: claude
    max_sessions: 100
    // strict | warn | silent
    validation_mode: warn
  }

  // Reload the registry when the state file changes externally.
  watch: {
    enabled: true
    debounce: 250ms
  }
}
`
