// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/scan"
)

type providerFunc func(ctx context.Context, ip string) (*models.Lookup, error)

func (f providerFunc) Lookup(ctx context.Context, ip string) (*models.Lookup, error) { return f(ctx, ip) }

func scanWith(p geo.Provider) ScanFunc {
	return func(ctx context.Context, ip string) (*scan.Result, error) {
		return scan.New(p).Scan(ctx, scan.Request{IP: ip})
	}
}

func connect(t *testing.T, run ScanFunc) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srvTransport, clientTransport := mcp.NewInMemoryTransports()
	srv := NewServer(run, "test")
	go func() {
		_ = srv.Run(ctx, srvTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestListTools(t *testing.T) {
	session := connect(t, scanWith(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		return &models.Lookup{IP: ip}, nil
	})))

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != ToolName {
		t.Fatalf("unexpected tools %+v", res.Tools)
	}
}

func TestScanTool(t *testing.T) {
	var looked string
	session := connect(t, scanWith(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		looked = ip
		return &models.Lookup{
			IP: ip, Country: "United States", CountryCode: "US", Timezone: "America/Chicago",
			ISP: "Tor Exit", ASN: "396507", Security: models.SecurityFlags{Tor: true},
		}, nil
	})))

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"ip": "::ffff:185.220.101.1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	if looked != "185.220.101.1" {
		t.Errorf("expected unmapped address, provider saw %q", looked)
	}

	var result scan.Result
	if err := json.Unmarshal([]byte(textOf(t, res)), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !result.IsTor || result.IP != "185.220.101.1" || result.ASN != "AS396507" {
		t.Errorf("unexpected result %+v", result)
	}
	if result.TZMismatch || result.LangMismatch || result.Verified {
		t.Errorf("tool scans carry no browser signals: %+v", result)
	}
}

func TestScanTool_Errors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		err  error
		want string
	}{
		{"invalid ip", map[string]any{"ip": "nope"}, nil, "invalid IP address"},
		{"not found", map[string]any{"ip": "10.0.0.1"}, &geo.NotFoundError{Message: "Reserved range"}, "Reserved range"},
		{"upstream", map[string]any{}, errors.New("connection refused"), "lookup failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := connect(t, scanWith(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &models.Lookup{IP: ip}, nil
			})))

			res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: ToolName, Arguments: tt.args})
			if err != nil {
				t.Fatal(err)
			}
			if !res.IsError {
				t.Fatal("expected an error result")
			}
			if text := textOf(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("error text %q does not mention %q", text, tt.want)
			}
		})
	}
}
