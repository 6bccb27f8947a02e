// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// DefaultLeakTimeout is also the longest a probe may wait; larger values
// are clamped to it.
const DefaultLeakTimeout = 1000 * time.Millisecond

// CandidateSource streams ICE candidate descriptions. An empty string marks
// the end of gathering, as does closing the channel.
type CandidateSource interface {
	Gather(ctx context.Context) (<-chan string, error)
}

type LeakProbe struct {
	Source  CandidateSource
	Timeout time.Duration
}

func NewLeakProbe(src CandidateSource, timeout time.Duration) *LeakProbe {
	if timeout <= 0 || timeout > DefaultLeakTimeout {
		timeout = DefaultLeakTimeout
	}
	return &LeakProbe{Source: src, Timeout: timeout}
}

type gatherResult struct {
	candidates <-chan string
	err        error
}

// ProbeLocalAddress returns the first usable address found in a candidate, or
// "" when gathering fails, ends without one, or the timeout elapses first.
func (p *LeakProbe) ProbeLocalAddress(ctx context.Context) string {
	if p == nil || p.Source == nil {
		return ""
	}
	timeout := p.Timeout
	if timeout <= 0 || timeout > DefaultLeakTimeout {
		timeout = DefaultLeakTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := make(chan gatherResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				started <- gatherResult{err: fmt.Errorf("candidate source panicked: %v", r)}
			}
		}()
		ch, err := p.Source.Gather(ctx)
		started <- gatherResult{candidates: ch, err: err}
	}()

	var candidates <-chan string
	select {
	case <-ctx.Done():
		slog.Debug("Leak probe timed out before gathering started")
		return ""
	case g := <-started:
		if g.err != nil {
			slog.Debug("Leak probe negotiation failed", "error", g.err)
			return ""
		}
		candidates = g.candidates
	}
	if candidates == nil {
		return ""
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Leak probe timed out", "timeout_ms", timeout.Milliseconds())
			return ""
		case c, ok := <-candidates:
			if ctx.Err() != nil {
				return ""
			}
			if !ok || strings.TrimSpace(c) == "" {
				return ""
			}
			if addr := ParseCandidateAddress(c); addr != "" {
				return addr
			}
		}
	}
}

var candidateAddrRe = regexp.MustCompile(`([0-9]{1,3}(\.[0-9]{1,3}){3}|[a-f0-9]{1,4}(:[a-f0-9]{1,4}){7})`)

// ParseCandidateAddress extracts the connection address from an ICE candidate
// line. mDNS hostnames and malformed addresses yield "".
func ParseCandidateAddress(candidate string) string {
	line := strings.TrimSpace(candidate)
	line = strings.TrimPrefix(line, "a=")

	if strings.HasPrefix(line, "candidate:") {
		fields := strings.Fields(line)
		if len(fields) >= 5 {
			if addr, err := netip.ParseAddr(fields[4]); err == nil {
				return addr.Unmap().String()
			}
			if strings.HasSuffix(strings.ToLower(fields[4]), ".local") {
				return ""
			}
		}
	}

	for _, m := range candidateAddrRe.FindAllString(strings.ToLower(line), -1) {
		if addr, err := netip.ParseAddr(m); err == nil {
			return addr.Unmap().String()
		}
	}
	return ""
}

// Leaked reports whether the locally discovered address differs from the
// address the provider saw.
func Leaked(leakedAddr, providerIP string) bool {
	if leakedAddr == "" {
		return false
	}
	a, errA := netip.ParseAddr(leakedAddr)
	b, errB := netip.ParseAddr(providerIP)
	if errA == nil && errB == nil {
		return a.Unmap() != b.Unmap()
	}
	return leakedAddr != providerIP
}
