// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
)

const (
	CISAListURL  = "https://rules.ncats.cyber.dhs.gov/all.txt"
	cisaSource   = "CISA Cyber Hygiene"
	maxListBody  = 4 << 20
	RefreshEvery = 24 * time.Hour
)

// Networks holds published scanner address ranges.
type Networks struct {
	URL    string
	Source string
	HTTP   *dnsclient.SafeHTTPClient

	mu       sync.RWMutex
	prefixes []netip.Prefix
}

func NewCISANetworks(client *dnsclient.SafeHTTPClient) *Networks {
	if client == nil {
		client = dnsclient.NewSafeHTTPClientWithTimeout(30 * time.Second)
	}
	return &Networks{URL: CISAListURL, Source: cisaSource, HTTP: client}
}

// Load replaces the ranges with those read from r: one address or CIDR per
// line, with blank lines and # comments ignored. An empty list keeps the
// previous ranges.
func (n *Networks) Load(r io.Reader) (int, error) {
	var prefixes []netip.Prefix
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p, ok := parsePrefix(line); ok {
			prefixes = append(prefixes, p)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read scanner list: %w", err)
	}
	if len(prefixes) == 0 {
		return 0, nil
	}

	n.mu.Lock()
	n.prefixes = prefixes
	n.mu.Unlock()
	return len(prefixes), nil
}

func parsePrefix(s string) (netip.Prefix, bool) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		return p.Masked(), true
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), true
}

func (n *Networks) Refresh(ctx context.Context) error {
	resp, err := n.HTTP.Get(ctx, n.URL)
	if err != nil {
		return fmt.Errorf("fetch scanner list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch scanner list: HTTP %d", resp.StatusCode)
	}

	count, err := n.Load(io.LimitReader(resp.Body, maxListBody))
	if err != nil {
		return err
	}
	slog.Info("Scanner list refreshed", "source", n.Source, "entries", count)
	return nil
}

// Run refreshes the list now and then every interval until ctx ends.
func (n *Networks) Run(ctx context.Context, every time.Duration) {
	if err := n.Refresh(ctx); err != nil {
		slog.Warn("Scanner list refresh failed", "source", n.Source, "error", err)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Refresh(ctx); err != nil {
				slog.Warn("Scanner list refresh failed", "source", n.Source, "error", err)
			}
		}
	}
}

func (n *Networks) Size() int {
	if n == nil {
		return 0
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.prefixes)
}

func (n *Networks) Contains(ip string) bool {
	if n == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
