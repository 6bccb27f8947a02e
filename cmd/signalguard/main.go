// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/00xf5/signal-guard-sub000/internal/config"
	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/mcptool"
	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scan"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const usage = `usage: signalguard <command> [flags]

commands:
  scan [flags] [ip]   score an address (default: this host's public address)
  mcp                 serve the scan_ip tool over stdio
  version             print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	// stdout carries results and the MCP stream, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	dnsclient.SetUserAgentVersion(cfg.AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "scan":
		err = runScan(ctx, cfg, os.Args[2:], os.Stdout)
	case "mcp":
		err = runMCP(ctx, cfg)
	case "version":
		fmt.Println(cfg.AppVersion)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "signalguard: %v\n", err)
		os.Exit(1)
	}
}

func runScan(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	pretty := fs.Bool("pretty", term.IsTerminal(int(os.Stdout.Fd())), "indent the JSON result")
	stunServer := fs.String("stun", cfg.STUNServer, "STUN server used to discover local addresses")
	local := fs.Bool("local", true, "include this host's locale and local-address leak check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("scan takes at most one address, got %d", fs.NArg())
	}

	chain, err := geo.NewChain(ctx, cfg, telemetry.NewRegistry())
	if err != nil {
		return err
	}
	defer chain.Close()

	opts := []scan.Option{scan.WithLookupTimeout(cfg.LookupTimeout())}
	req := scan.Request{IP: fs.Arg(0)}
	if *local {
		gatherer := &probe.STUNGatherer{Server: *stunServer}
		opts = append(opts, scan.WithLeakProbe(probe.NewLeakProbe(gatherer, cfg.LeakTimeout())))
		env := probe.Local()
		req.Environment = &env
	}

	result, err := scan.New(chain.Provider, opts...).Scan(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

func runMCP(ctx context.Context, cfg *config.Config) error {
	chain, err := geo.NewChain(ctx, cfg, telemetry.NewRegistry())
	if err != nil {
		return err
	}
	defer chain.Close()

	slog.Info("Serving MCP over stdio", "tool", mcptool.ToolName, "version", cfg.AppVersion)
	return mcptool.Serve(ctx, func(ctx context.Context, ip string) (*scan.Result, error) {
		return scan.New(chain.Provider, scan.WithLookupTimeout(cfg.LookupTimeout())).Scan(ctx, scan.Request{IP: ip})
	}, cfg.AppVersion)
}
