// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
)

const DefaultSiteverifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

var (
	ErrNoSecret = errors.New("turnstile secret not configured")
	ErrNoToken  = errors.New("no turnstile token submitted")
)

// TurnstileChallenge is the server half of a Cloudflare Turnstile widget.
// The browser solves the challenge and submits its token; Response checks
// that token with siteverify and hands it back only when it is valid.
type TurnstileChallenge struct {
	Secret    string
	VerifyURL string
	RemoteIP  string
	HTTP      *dnsclient.SafeHTTPClient

	mu      sync.Mutex
	token   string
	widgets int
}

func NewTurnstileChallenge(secret string, client *dnsclient.SafeHTTPClient) *TurnstileChallenge {
	if client == nil {
		client = dnsclient.NewSafeHTTPClient()
	}
	return &TurnstileChallenge{Secret: secret, VerifyURL: DefaultSiteverifyURL, HTTP: client}
}

// Submit stores the token the client produced for the current scan.
func (t *TurnstileChallenge) Submit(token string) {
	t.mu.Lock()
	t.token = strings.TrimSpace(token)
	t.mu.Unlock()
}

func (t *TurnstileChallenge) Render(ctx context.Context, siteKey string) (string, error) {
	if t.Secret == "" {
		return "", ErrNoSecret
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.widgets++
	return fmt.Sprintf("turnstile-%d", t.widgets), nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

func (t *TurnstileChallenge) Response(ctx context.Context, widgetID string) (string, error) {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token == "" {
		return "", ErrNoToken
	}

	form := url.Values{"secret": {t.Secret}, "response": {token}}
	if t.RemoteIP != "" {
		form.Set("remoteip", t.RemoteIP)
	}
	verifyURL := t.VerifyURL
	if verifyURL == "" {
		verifyURL = DefaultSiteverifyURL
	}

	resp, err := t.HTTP.PostForm(ctx, verifyURL, form)
	if err != nil {
		return "", fmt.Errorf("siteverify request: %w", err)
	}
	body, err := t.HTTP.ReadBody(resp, 64*1024)
	if err != nil {
		return "", fmt.Errorf("siteverify read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("siteverify returned HTTP %d", resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("siteverify decode: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("token rejected: %s", strings.Join(out.ErrorCodes, ","))
	}
	return token, nil
}

// Reset drops the stored token. A token is single use.
func (t *TurnstileChallenge) Reset(widgetID string) error {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
	return nil
}
