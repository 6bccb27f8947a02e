// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package telemetry tracks the health of upstream lookup providers and
// caches their answers.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"

	degradedAfter  = 3
	unhealthyAfter = 5
	backoffBase    = 5 * time.Second
	backoffCap     = 5 * time.Minute
	latencySamples = 100
)

type ProviderStats struct {
	Name           string      `json:"name"`
	State          HealthState `json:"state"`
	Requests       int64       `json:"requests"`
	Successes      int64       `json:"successes"`
	Failures       int64       `json:"failures"`
	ConsecFailures int         `json:"consecutive_failures"`
	LastError      string      `json:"last_error,omitempty"`
	LastErrorAt    *time.Time  `json:"last_error_at,omitempty"`
	LastSuccessAt  *time.Time  `json:"last_success_at,omitempty"`
	AvgLatencyMs   float64     `json:"avg_latency_ms"`
	P95LatencyMs   float64     `json:"p95_latency_ms"`
	InCooldown     bool        `json:"in_cooldown"`
	CooldownUntil  *time.Time  `json:"cooldown_until,omitempty"`
}

type providerState struct {
	mu             sync.Mutex
	name           string
	requests       int64
	successes      int64
	failures       int64
	consecFailures int
	lastError      string
	lastErrorAt    time.Time
	lastSuccessAt  time.Time
	latencies      []float64
	next           int
	cooldownUntil  time.Time
}

// Registry records outcomes per provider. A provider that fails
// degradedAfter times in a row is put into an exponentially growing cooldown
// until its next success.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerState),
		now:       time.Now,
	}
}

func (r *Registry) provider(name string) *providerState {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok = r.providers[name]; ok {
		return p
	}
	p = &providerState{name: name, latencies: make([]float64, 0, latencySamples)}
	r.providers[name] = p
	return p
}

func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	p := r.provider(name)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	p.successes++
	p.consecFailures = 0
	p.lastSuccessAt = r.now()
	p.cooldownUntil = time.Time{}

	ms := float64(latency.Microseconds()) / 1000
	if len(p.latencies) < latencySamples {
		p.latencies = append(p.latencies, ms)
	} else {
		p.latencies[p.next] = ms
	}
	p.next = (p.next + 1) % latencySamples
}

func (r *Registry) RecordFailure(name, errMsg string) {
	p := r.provider(name)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := r.now()
	p.requests++
	p.failures++
	p.consecFailures++
	p.lastError = errMsg
	p.lastErrorAt = now

	if p.consecFailures >= degradedAfter {
		backoff := backoffBase << (p.consecFailures - degradedAfter)
		if backoff <= 0 || backoff > backoffCap {
			backoff = backoffCap
		}
		p.cooldownUntil = now.Add(backoff)
	}
}

func (r *Registry) InCooldown(name string) bool {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.cooldownUntil.IsZero() && r.now().Before(p.cooldownUntil)
}

func (r *Registry) Stats(name string) ProviderStats {
	p := r.provider(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(r.now())
}

// AllStats returns every known provider sorted by name.
func (r *Registry) AllStats() []ProviderStats {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]ProviderStats, 0, len(names))
	for _, name := range names {
		out = append(out, r.Stats(name))
	}
	return out
}

func (p *providerState) snapshot(now time.Time) ProviderStats {
	s := ProviderStats{
		Name:           p.name,
		Requests:       p.requests,
		Successes:      p.successes,
		Failures:       p.failures,
		ConsecFailures: p.consecFailures,
		LastError:      p.lastError,
		State:          Healthy,
	}
	if p.consecFailures >= unhealthyAfter {
		s.State = Unhealthy
	} else if p.consecFailures >= degradedAfter {
		s.State = Degraded
	}

	if !p.lastErrorAt.IsZero() {
		t := p.lastErrorAt
		s.LastErrorAt = &t
	}
	if !p.lastSuccessAt.IsZero() {
		t := p.lastSuccessAt
		s.LastSuccessAt = &t
	}
	if !p.cooldownUntil.IsZero() && now.Before(p.cooldownUntil) {
		t := p.cooldownUntil
		s.InCooldown = true
		s.CooldownUntil = &t
	}

	if n := len(p.latencies); n > 0 {
		sorted := append([]float64(nil), p.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		s.AvgLatencyMs = sum / float64(n)
		s.P95LatencyMs = sorted[int(float64(n-1)*0.95)]
	}
	return s
}
