// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package scan sequences a single identity scan: provider lookup, leak probe
// and human verification run concurrently, then every signal is scored once.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/00xf5/signal-guard-sub000/internal/classifier"
	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scanner"
	"github.com/00xf5/signal-guard-sub000/internal/scoring"
	"github.com/00xf5/signal-guard-sub000/internal/verify"
)

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseLocating       Phase = "locating"
	PhaseLeakChecking   Phase = "leak_checking"
	PhaseHumanVerifying Phase = "human_verifying"
	PhaseDone           Phase = "done"
	PhaseError          Phase = "error"

	DefaultLookupTimeout = 10 * time.Second
)

type Progress struct {
	Session uint64 `json:"session"`
	Phase   Phase  `json:"phase"`
}

// Request describes one scan. An empty IP scans the caller's own address.
// A nil Environment contributes no locale or automation signals. A nil Leak
// or Gate falls back to the orchestrator's own.
type Request struct {
	IP          string
	Environment *probe.Environment
	Leak        *probe.LeakProbe
	Gate        *verify.Gate
}

type Orchestrator struct {
	provider      geo.Provider
	leak          *probe.LeakProbe
	gate          *verify.Gate
	scanners      *scanner.Networks
	lookupTimeout time.Duration
	observer      func(Progress)

	mu      sync.Mutex
	session uint64
	phase   Phase
}

type Option func(*Orchestrator)

func WithLeakProbe(p *probe.LeakProbe) Option {
	return func(o *Orchestrator) { o.leak = p }
}

func WithGate(g *verify.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithScannerNetworks labels results from published scanner ranges. The
// label is informational and does not change any score.
func WithScannerNetworks(n *scanner.Networks) Option {
	return func(o *Orchestrator) { o.scanners = n }
}

func WithLookupTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lookupTimeout = d
		}
	}
}

// WithObserver registers a callback for phase changes of the current
// session. It is called with the orchestrator's lock held and must not call
// back into it.
func WithObserver(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(provider geo.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:      provider,
		lookupTimeout: DefaultLookupTimeout,
		phase:         PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) Session() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Orchestrator) begin() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session++
	o.gate.Reset()
	o.enter(o.session, PhaseLocating)
	return o.session
}

// advance moves session id to phase. It reports false when id is stale, in
// which case nothing changes.
func (o *Orchestrator) advance(id uint64, phase Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id != o.session {
		return false
	}
	o.enter(id, phase)
	return true
}

func (o *Orchestrator) enter(id uint64, phase Phase) {
	o.phase = phase
	if o.observer != nil {
		o.observer(Progress{Session: id, Phase: phase})
	}
}

// Scan runs one session to completion. A newer call supersedes this one:
// the older call then returns ErrSuperseded and its signals are discarded.
func (o *Orchestrator) Scan(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, o.begin(), req)
}

// Start begins a session and runs it in the background. The session id is
// assigned before Start returns, so callers can tie later input to it. done,
// when non-nil, receives the outcome from the background goroutine.
func (o *Orchestrator) Start(ctx context.Context, req Request, done func(*Result, error)) uint64 {
	id := o.begin()
	go func() {
		result, err := o.run(ctx, id, req)
		if done != nil {
			done(result, err)
		}
	}()
	return id
}

func (o *Orchestrator) run(ctx context.Context, id uint64, req Request) (*Result, error) {
	leakProbe := req.Leak
	if leakProbe == nil {
		leakProbe = o.leak
	}
	leakCh := make(chan string, 1)
	go func() { leakCh <- leakProbe.ProbeLocalAddress(ctx) }()

	gate := req.Gate
	if gate == nil {
		gate = o.gate
	}
	tokenCh := make(chan string, 1)
	go func() { tokenCh <- gate.AcquireToken(ctx) }()

	lookupCtx, cancel := context.WithTimeout(ctx, o.lookupTimeout)
	start := time.Now()
	lookup, err := o.provider.Lookup(lookupCtx, req.IP)
	elapsed := time.Since(start)
	cancel()

	if err != nil {
		if !o.advance(id, PhaseError) {
			return nil, ErrSuperseded
		}
		slog.Warn("Scan lookup failed", "ip", req.IP, "session", id, "error", err)
		return nil, newProviderError(err)
	}
	if !o.advance(id, PhaseLeakChecking) {
		return nil, ErrSuperseded
	}

	var leaked string
	select {
	case leaked = <-leakCh:
	case <-ctx.Done():
	}
	if !o.advance(id, PhaseHumanVerifying) {
		return nil, ErrSuperseded
	}

	var token string
	select {
	case token = <-tokenCh:
	case <-ctx.Done():
	}

	var sig probe.EnvironmentSignals
	if req.Environment != nil {
		sig = probe.Evaluate(*req.Environment, lookup.Timezone, lookup.CountryCode)
	}

	match := classifier.Lookup(lookup.ASN, lookup.ISP)
	known := scanner.Classify(o.scanners, lookup.IP, lookup.Hostname)
	bundle := scoring.Bundle{
		Identity:     scoring.Derive(lookup, match.Known),
		RawVPN:       lookup.Security.VPN,
		ISP:          lookup.ISP,
		LeakedIP:     leaked,
		Leaked:       probe.Leaked(leaked, lookup.IP),
		TZMismatch:   sig.TZMismatch,
		LangMismatch: sig.LangMismatch,
		Automation:   sig.Automation,
		Token:        token,
	}

	// Last chance to drop a stale session before scoring.
	o.mu.Lock()
	if id != o.session {
		o.mu.Unlock()
		return nil, ErrSuperseded
	}
	scores := scoring.Score(bundle)
	result := buildResult(uuid.NewString(), lookup, bundle, scores, sig, elapsed.Milliseconds())
	result.KnownScanner = known.Source
	o.enter(id, PhaseDone)
	o.mu.Unlock()

	slog.Info("Scan complete",
		"ip", result.IP,
		"session", id,
		"risk", result.RiskScore,
		"threat", result.ThreatLevel,
		"infra_match", match.Reason,
		"known_scanner", known.Source,
		"leaked", bundle.Leaked,
		"verified", result.Verified,
	)
	return result, nil
}
