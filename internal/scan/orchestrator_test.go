// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scanner"
	"github.com/00xf5/signal-guard-sub000/internal/scoring"
	"github.com/00xf5/signal-guard-sub000/internal/verify"
)

type providerFunc func(ctx context.Context, ip string) (*models.Lookup, error)

func (f providerFunc) Lookup(ctx context.Context, ip string) (*models.Lookup, error) { return f(ctx, ip) }

func staticProvider(l models.Lookup) providerFunc {
	return func(ctx context.Context, ip string) (*models.Lookup, error) {
		cp := l
		return &cp, nil
	}
}

type tokenChallenge struct{ token string }

func (c *tokenChallenge) Render(ctx context.Context, siteKey string) (string, error) { return "w", nil }
func (c *tokenChallenge) Response(ctx context.Context, id string) (string, error)    { return c.token, nil }
func (c *tokenChallenge) Reset(id string) error                                      { return nil }

func tokenGate(token string) *verify.Gate {
	return verify.NewGate(&tokenChallenge{token: token}, "site")
}

var usEnglish = &probe.Environment{Timezone: "America/New_York", Languages: []string{"en-US", "en"}}

func assertScores(t *testing.T, r *Result, risk, anon, fraud, abuse float64, threat scoring.ThreatLevel) {
	t.Helper()
	if r.RiskScore != risk || r.AnonymityScore != anon || r.FraudScore != fraud || r.AbuseScore != abuse {
		t.Errorf("scores = %v/%v/%v/%v, want %v/%v/%v/%v",
			r.RiskScore, r.AnonymityScore, r.FraudScore, r.AbuseScore, risk, anon, fraud, abuse)
	}
	if r.ThreatLevel != threat {
		t.Errorf("threat = %q, want %q", r.ThreatLevel, threat)
	}
}

type phaseRecorder struct {
	mu     sync.Mutex
	events []Progress
}

func (p *phaseRecorder) observe(ev Progress) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *phaseRecorder) snapshot() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.events...)
}

func TestScan_CleanResidential(t *testing.T) {
	rec := &phaseRecorder{}
	o := New(staticProvider(models.Lookup{
		IP: "73.12.34.56", Country: "United States", CountryCode: "US", City: "Boston",
		Region: "Massachusetts", Timezone: "America/New_York", ISP: "Comcast Cable", Org: "Comcast", ASN: "7922",
	}), WithGate(tokenGate("tok")), WithObserver(rec.observe))

	r, err := o.Scan(context.Background(), Request{IP: "73.12.34.56", Environment: usEnglish})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	assertScores(t, r, 5, 5, 5, 5, scoring.ThreatLow)
	if !r.IsResidential || r.ConnectionType != "Residential" || r.UsageType != "Consumer" {
		t.Errorf("expected residential consumer, got %+v", r)
	}
	if r.TZMismatch || r.LangMismatch || r.IsBot {
		t.Errorf("unexpected environment signals: %+v", r)
	}
	if !r.Verified || r.LastSeen != "Just now" || r.ScanID == "" || r.ASN != "AS7922" {
		t.Errorf("unexpected metadata: %+v", r)
	}

	want := []Phase{PhaseLocating, PhaseLeakChecking, PhaseHumanVerifying, PhaseDone}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i, ev := range got {
		if ev.Phase != want[i] || ev.Session != 1 {
			t.Errorf("event %d = %+v, want phase %s session 1", i, ev, want[i])
		}
	}
	if o.Phase() != PhaseDone || o.Session() != 1 {
		t.Errorf("final state %s/%d", o.Phase(), o.Session())
	}
}

func TestScan_TorExit(t *testing.T) {
	o := New(staticProvider(models.Lookup{
		IP: "185.220.101.1", CountryCode: "DE", Timezone: "Europe/Berlin", ISP: "Foundation for Applied Privacy", ASN: "208294",
		Security: models.SecurityFlags{Tor: true},
	}), WithGate(tokenGate("tok")))

	r, err := o.Scan(context.Background(), Request{Environment: &probe.Environment{Timezone: "Europe/Berlin", Languages: []string{"de-DE"}}})
	if err != nil {
		t.Fatal(err)
	}
	assertScores(t, r, 85, 95, 90, 80, scoring.ThreatCritical)
	if !r.IsTor || r.IsResidential {
		t.Errorf("unexpected flags %+v", r)
	}
}

func TestScan_KnownInfrastructure(t *testing.T) {
	o := New(staticProvider(models.Lookup{
		IP: "8.8.8.8", CountryCode: "US", Timezone: "America/New_York", ISP: "Google LLC", Org: "Google LLC", ASN: "15169",
	}), WithGate(tokenGate("tok")))

	r, err := o.Scan(context.Background(), Request{IP: "8.8.8.8", Environment: usEnglish})
	if err != nil {
		t.Fatal(err)
	}
	assertScores(t, r, 70, 85, 45, 50, scoring.ThreatHigh)
	if !r.IsVPN || r.IsHosting || r.UsageType != "VPN Tunnel" || r.ConnectionType != "Infrastructure" {
		t.Errorf("unexpected classification %+v", r)
	}
}

func TestScan_OriginASNDoesNotClassify(t *testing.T) {
	o := New(staticProvider(models.Lookup{
		IP: "8.8.4.4", CountryCode: "US", Timezone: "America/New_York", OriginASN: "15169", OriginISP: "Google LLC",
	}))

	r, err := o.Scan(context.Background(), Request{Environment: usEnglish})
	if err != nil {
		t.Fatal(err)
	}
	if r.IsVPN || r.ConnectionType == "Infrastructure" {
		t.Errorf("DNS-derived ASN must not mark known infrastructure: %+v", r)
	}
	if r.ASN != "AS15169" || r.ISP != "Google LLC" {
		t.Errorf("origin values should still be displayed, got asn=%q isp=%q", r.ASN, r.ISP)
	}
}

func TestScan_NoTokenNoEnvironment(t *testing.T) {
	o := New(staticProvider(models.Lookup{IP: "73.1.1.1", CountryCode: "US", ISP: "Comcast"}))

	r, err := o.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assertScores(t, r, 5, 5, 10, 5, scoring.ThreatLow)
	if r.Verified || r.LangMismatch || r.TZMismatch {
		t.Errorf("nil environment and gate should add no signals: %+v", r)
	}
}

func TestScan_RequestGateOverrides(t *testing.T) {
	o := New(staticProvider(models.Lookup{IP: "73.1.1.1", CountryCode: "US", ISP: "Comcast"}), WithGate(tokenGate("")))

	r, err := o.Scan(context.Background(), Request{Gate: tokenGate("fresh")})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Verified {
		t.Error("expected the request gate's token to verify the scan")
	}
}

func TestScan_LeakAndMismatch(t *testing.T) {
	o := New(staticProvider(models.Lookup{
		IP: "203.0.113.9", CountryCode: "JP", Timezone: "Asia/Tokyo", ISP: "Example Broadband",
	}), WithGate(tokenGate("tok")))

	leak := probe.NewLeakProbe(probe.StaticCandidates{"candidate:1 1 udp 2122260223 192.168.1.20 5000 typ host"}, 0)
	r, err := o.Scan(context.Background(), Request{Environment: usEnglish, Leak: leak})
	if err != nil {
		t.Fatal(err)
	}
	// 5 + 25 leak + 12 tz + 8 lang
	assertScores(t, r, 50, 40, 5, 5, scoring.ThreatHigh)
	if r.WebRTCLeakedIP != "192.168.1.20" || !r.TZMismatch || !r.LangMismatch {
		t.Errorf("leak/mismatch not reported: %+v", r)
	}
}

func TestScan_LeakSameAsProviderIP(t *testing.T) {
	o := New(staticProvider(models.Lookup{IP: "203.0.113.9", CountryCode: "US", ISP: "x"}),
		WithLeakProbe(probe.NewLeakProbe(probe.StaticCandidates{"candidate:1 1 udp 1 203.0.113.9 1 typ srflx"}, 0)))

	r, err := o.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if r.RiskScore != 5 {
		t.Errorf("matching address must not count as a leak, risk=%v", r.RiskScore)
	}
}

func TestScan_ProviderNotFound(t *testing.T) {
	rec := &phaseRecorder{}
	o := New(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		return nil, &geo.NotFoundError{Message: "Invalid IP address"}
	}), WithObserver(rec.observe))

	r, err := o.Scan(context.Background(), Request{IP: "999.0.0.1"})
	if r != nil {
		t.Error("no partial result expected")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || !pe.NotFound {
		t.Fatalf("expected not-found ProviderError, got %v", err)
	}
	if pe.Error() != "Invalid IP address" {
		t.Errorf("provider message lost: %q", pe.Error())
	}
	if o.Phase() != PhaseError {
		t.Errorf("expected error phase, got %s", o.Phase())
	}
	ev := rec.snapshot()
	if ev[len(ev)-1].Phase != PhaseError {
		t.Errorf("last progress should be error, got %+v", ev)
	}
}

func TestScan_ProviderFailure(t *testing.T) {
	o := New(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		return nil, errors.New("connection refused")
	}))
	_, err := o.Scan(context.Background(), Request{IP: "1.1.1.1"})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.NotFound {
		t.Fatalf("expected generic ProviderError, got %v", err)
	}
}

func TestScan_LookupTimeout(t *testing.T) {
	o := New(providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), WithLookupTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := o.Scan(context.Background(), Request{IP: "1.1.1.1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("lookup timeout not applied")
	}
}

func TestScan_SupersededSessionDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	provider := providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
			return &models.Lookup{IP: "1.1.1.1", ASN: "13335", ISP: "Cloudflare"}, nil
		}
		return &models.Lookup{IP: "73.1.1.1", CountryCode: "US", ISP: "Comcast"}, nil
	})

	rec := &phaseRecorder{}
	o := New(provider, WithObserver(rec.observe))

	type outcome struct {
		r   *Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		r, err := o.Scan(context.Background(), Request{IP: "1.1.1.1"})
		firstDone <- outcome{r, err}
	}()

	<-entered
	second, err := o.Scan(context.Background(), Request{IP: "73.1.1.1"})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	close(release)

	first := <-firstDone
	if !errors.Is(first.err, ErrSuperseded) || first.r != nil {
		t.Fatalf("expected first scan to be superseded, got %+v %v", first.r, first.err)
	}
	if second.IP != "73.1.1.1" {
		t.Errorf("second result should be the fresh scan, got %s", second.IP)
	}
	if o.Session() != 2 || o.Phase() != PhaseDone {
		t.Errorf("expected session 2 done, got %d %s", o.Session(), o.Phase())
	}

	for _, ev := range rec.snapshot() {
		if ev.Session == 1 && ev.Phase != PhaseLocating {
			t.Errorf("stale session emitted %+v", ev)
		}
	}
}

func TestStart_LateLeakStaysWithItsSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := providerFunc(func(ctx context.Context, ip string) (*models.Lookup, error) {
		if ip == "1.1.1.1" {
			close(entered)
			<-release
		}
		return &models.Lookup{IP: ip, CountryCode: "US", ISP: "Comcast"}, nil
	})
	o := New(provider)

	firstCands := probe.NewCandidateChannel(4)
	firstDone := make(chan error, 1)
	first := o.Start(context.Background(), Request{
		IP:   "1.1.1.1",
		Leak: probe.NewLeakProbe(firstCands, time.Second),
	}, func(r *Result, err error) { firstDone <- err })
	<-entered

	secondDone := make(chan *Result, 1)
	second := o.Start(context.Background(), Request{
		IP:   "73.1.1.1",
		Leak: probe.NewLeakProbe(probe.NewCandidateChannel(1), 100*time.Millisecond),
	}, func(r *Result, err error) {
		if err != nil {
			t.Errorf("second scan: %v", err)
		}
		secondDone <- r
	})
	if first != 1 || second != 2 {
		t.Fatalf("session ids = %d, %d, want 1, 2", first, second)
	}

	// The first session's candidate arrives only after the second has begun.
	firstCands.Push("candidate:1 1 udp 2122260223 10.9.9.9 5000 typ host")

	r := <-secondDone
	if r == nil {
		t.Fatal("second scan produced no result")
	}
	if r.WebRTCLeakedIP != "" || r.RiskScore != 5 {
		t.Errorf("first session's leak reached the second: leaked=%q risk=%v", r.WebRTCLeakedIP, r.RiskScore)
	}

	close(release)
	if err := <-firstDone; !errors.Is(err, ErrSuperseded) {
		t.Errorf("expected first scan superseded, got %v", err)
	}
}

func TestScan_KnownScannerLabel(t *testing.T) {
	nets := scanner.NewCISANetworks(nil)
	if _, err := nets.Load(strings.NewReader("64.69.57.0/24\n")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		lookup models.Lookup
		want   string
	}{
		{models.Lookup{IP: "64.69.57.3", ISP: "Comcast"}, "CISA Cyber Hygiene"},
		{models.Lookup{IP: "167.94.138.1", ISP: "Censys", Hostname: "scanner-1.ch1.censys-scanner.com"}, "Censys"},
		{models.Lookup{IP: "73.1.1.1", ISP: "Comcast"}, ""},
	}
	for _, tt := range tests {
		o := New(staticProvider(tt.lookup), WithScannerNetworks(nets))
		r, err := o.Scan(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		if r.KnownScanner != tt.want {
			t.Errorf("%s: knownScanner = %q, want %q", tt.lookup.IP, r.KnownScanner, tt.want)
		}
	}
}
