// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package verify wraps a human-verification challenge behind a gate that
// never fails a scan: a missing token is just a missing signal.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrNotRendered = errors.New("challenge not rendered")

// Challenge is the widget lifecycle the gate drives.
type Challenge interface {
	Render(ctx context.Context, siteKey string) (string, error)
	Response(ctx context.Context, widgetID string) (string, error)
	Reset(widgetID string) error
}

type Gate struct {
	challenge Challenge
	siteKey   string

	mu       sync.Mutex
	widgetID string
	rendered bool
	verified bool
}

func NewGate(ch Challenge, siteKey string) *Gate {
	return &Gate{challenge: ch, siteKey: siteKey}
}

// Ready renders the challenge on first use. Later calls are no-ops.
func (g *Gate) Ready(ctx context.Context) error {
	if g == nil || g.challenge == nil {
		return ErrNotRendered
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rendered {
		return nil
	}
	id, err := g.challenge.Render(ctx, g.siteKey)
	if err != nil {
		return fmt.Errorf("render challenge: %w", err)
	}
	g.widgetID = id
	g.rendered = true
	return nil
}

// AcquireToken returns the challenge token, or "" when the challenge is
// unavailable or produced nothing.
func (g *Gate) AcquireToken(ctx context.Context) string {
	if g == nil || g.challenge == nil {
		return ""
	}
	if err := g.Ready(ctx); err != nil {
		slog.Warn("Verification unavailable", "error", err)
		g.setVerified(false)
		return ""
	}

	g.mu.Lock()
	id := g.widgetID
	g.mu.Unlock()

	token, err := g.challenge.Response(ctx, id)
	if err != nil {
		slog.Debug("Verification produced no token", "error", err)
		token = ""
	}
	g.setVerified(token != "")
	return token
}

// Reset invalidates the previous challenge so the next scan needs a fresh
// token. An unrendered gate has nothing to reset.
func (g *Gate) Reset() {
	if g == nil || g.challenge == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = false
	if !g.rendered {
		return
	}
	if err := g.challenge.Reset(g.widgetID); err != nil {
		slog.Debug("Challenge reset failed", "widget", g.widgetID, "error", err)
	}
}

func (g *Gate) Verified() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verified
}

func (g *Gate) setVerified(v bool) {
	g.mu.Lock()
	g.verified = v
	g.mu.Unlock()
}
