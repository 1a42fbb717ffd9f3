// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// conductor-ctl is the operator CLI for a running conductor daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wingedpig/conductor/pkg/client"
)

func main() {
	var (
		server = flag.String("server", "http://127.0.0.1:7433", "Conductor server URL")
		apiKey = flag.String("api-key", os.Getenv("CONDUCTOR_API_KEY"), "API key")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := client.New(*server, client.WithAPIKey(*apiKey))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "list":
		err = runList(ctx, c)
	case "create":
		err = runCreate(ctx, c, args[1:])
	case "get":
		err = runGet(ctx, c, args[1:])
	case "send":
		err = runSend(ctx, c, args[1:])
	case "watch":
		err = runWatch(*server, *apiKey, args[1:])
	case "interrupt":
		err = requireID(args[1:], func(id string) error { return c.Sessions.Interrupt(ctx, id) })
	case "resume":
		err = requireID(args[1:], func(id string) error {
			_, rErr := c.Sessions.Resume(ctx, id)
			return rErr
		})
	case "destroy":
		err = requireID(args[1:], func(id string) error { return c.Sessions.Destroy(ctx, id) })
	case "models":
		err = runModels(ctx, c)
	case "mcp":
		err = runMCP(ctx, c, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: conductor-ctl [flags] <command>

Commands:
  list                       List sessions
  create [-cwd dir] [-model m]  Create a session
  get <id>                   Show one session
  send <id> <text>           Send a message (fire and forget)
  watch <id> <text>          Send a message and stream events
  interrupt <id>             Interrupt a running session
  resume <id>                Resume a session
  destroy <id>               Destroy a session
  models                     List supported models
  mcp <id>                   Show MCP server status

Flags:
  -server URL                Server URL (default http://127.0.0.1:7433)
  -api-key KEY               API key (or CONDUCTOR_API_KEY)`)
}

func requireID(args []string, fn func(string) error) error {
	if len(args) < 1 {
		return fmt.Errorf("session id required")
	}
	return fn(args[0])
}

func runList(ctx context.Context, c *client.Client) error {
	sessions, err := c.Sessions.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-12s  turns=%d  cost=$%.4f  %s\n",
			s.ID, s.Status, s.TurnCount, s.TotalCostUSD, s.CWD)
	}
	return nil
}

func runCreate(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	cwd := fs.String("cwd", "", "Working directory")
	model := fs.String("model", "", "Model selector")
	mode := fs.String("permission-mode", "", "Permission mode")
	fs.Parse(args)

	opts := client.Options{}
	if *cwd != "" {
		opts["cwd"] = *cwd
	}
	if *model != "" {
		opts["model"] = *model
	}
	if *mode != "" {
		opts["permissionMode"] = *mode
	}

	sess, err := c.Sessions.Create(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Println(sess.ID)
	return nil
}

func runGet(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("session id required")
	}
	sess, err := c.Sessions.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session not found")
	}
	fmt.Printf("id:       %s\nstatus:   %s\ncwd:      %s\nmodel:    %s\nturns:    %d\ncost:     $%.4f\ntokens:   in=%d out=%d\n",
		sess.ID, sess.Status, sess.CWD, sess.Model, sess.TurnCount, sess.TotalCostUSD,
		sess.Usage.InputTokens, sess.Usage.OutputTokens)
	if sess.Error != nil {
		fmt.Printf("error:    %s\n", sess.Error.Message)
	}
	return nil
}

func runSend(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: send <id> <text>")
	}
	return c.Sessions.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
}

// runWatch uses the duplex transport: sends a message and prints streamed
// events until the turn completes.
func runWatch(server, apiKey string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: watch <id> <text>")
	}
	id, text := args[0], strings.Join(args[1:], " ")

	wsURL := strings.Replace(server, "http", "ws", 1) + "/api/v1/rpc"
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := client.Dial(ctx, wsURL, client.WithConnAPIKey(apiKey))
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	return conn.SendMessageWithCallbacks(ctx, id, text, &client.Callbacks{
		OnMessage: func(ev client.Event) {
			fmt.Printf("[assistant] %s\n", string(ev.Message))
		},
		OnTodoUpdate: func(todo client.TodoUpdate) {
			for _, item := range todo.Todos {
				fmt.Printf("[todo] %-12s %s\n", item.Status, item.Content)
			}
		},
		OnPlanUpdate: func(plan client.PlanUpdate) {
			fmt.Printf("[plan] %s\n", plan.Plan)
		},
		OnToolUse: func(use client.ToolUse) {
			fmt.Printf("[tool] %s %s\n", use.Name, string(use.Input))
		},
		OnError: func(info client.ErrorInfo) {
			fmt.Printf("[error] %s\n", info.Message)
		},
		OnComplete: func(ev client.Event) {
			fmt.Printf("[done] turns=%d cost=$%.4f\n", ev.NumTurns, ev.TotalCostUSD)
		},
	})
}

func runModels(ctx context.Context, c *client.Client) error {
	models, err := c.Sessions.SupportedModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		marker := " "
		if m.Default {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, m.ID, m.DisplayName)
	}
	return nil
}

func runMCP(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("session id required")
	}
	statuses, err := c.Sessions.MCPServerStatus(ctx, args[0])
	if err != nil {
		return err
	}
	for _, s := range statuses {
		fmt.Printf("%-24s %s\n", s.Name, s.Status)
	}
	return nil
}
