// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package mcptool exposes identity scans to MCP clients.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/00xf5/signal-guard-sub000/internal/scan"
)

const ToolName = "scan_ip"

// ScanFunc runs one independent scan. An empty ip scans the host's own
// public address.
type ScanFunc func(ctx context.Context, ip string) (*scan.Result, error)

type scanArgs struct {
	IP string `json:"ip"`
}

func NewServer(run ScanFunc, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "signalguard", Version: version}, nil)
	srv.AddTool(&mcp.Tool{
		Name:        ToolName,
		Description: "Score the risk of an IP address: VPN, proxy, Tor, hosting and residential classification with risk, anonymity, fraud and abuse scores.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ip": map[string]any{
					"type":        "string",
					"description": "IPv4 or IPv6 address. Omit to scan this host's public address.",
				},
			},
		},
	}, scanHandler(run))
	return srv
}

// Serve runs the tool server over stdio until ctx ends or the client leaves.
func Serve(ctx context.Context, run ScanFunc, version string) error {
	return NewServer(run, version).Run(ctx, &mcp.StdioTransport{})
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func scanHandler(run ScanFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args scanArgs
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("invalid arguments: %v", err), nil
			}
		}
		ip := strings.TrimSpace(args.IP)
		if ip != "" {
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				return errorResult("invalid IP address %q", ip), nil
			}
			ip = addr.Unmap().String()
		}

		result, err := run(ctx, ip)
		if err != nil {
			var pe *scan.ProviderError
			if errors.As(err, &pe) {
				return errorResult("%s", pe.Error()), nil
			}
			slog.Error("MCP scan failed", "ip", ip, "error", err)
			return nil, fmt.Errorf("scan %s: %w", ip, err)
		}

		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		}, nil
	}
}
