// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package geo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const providerCymru = "cymru"

type resolver interface {
	QueryTXT(ctx context.Context, name string) ([]string, error)
	LookupPTR(ctx context.Context, ip string) (string, error)
}

// Enricher adds DNS-derived context to a provider answer. When the provider
// reported no ASN, the Team Cymru origin AS goes into OriginASN/OriginISP;
// the provider's own ASN and ISP are left as fetched. The reverse hostname
// is always attempted. Failures leave the fields empty.
type Enricher struct {
	Next      Provider
	DNS       resolver
	Telemetry *telemetry.Registry
}

func NewEnricher(next Provider, client *dnsclient.Client, reg *telemetry.Registry) *Enricher {
	e := &Enricher{Next: next, Telemetry: reg}
	if client != nil {
		e.DNS = client
	}
	return e
}

func (e *Enricher) Lookup(ctx context.Context, ip string) (*models.Lookup, error) {
	l, err := e.Next.Lookup(ctx, ip)
	if err != nil || l == nil || e.DNS == nil {
		return l, err
	}

	out := *l
	if out.ASN == "" {
		if asn, name := e.originASN(ctx, out.IP); asn != "" {
			out.OriginASN = asn
			out.OriginISP = name
		}
	}
	if out.Hostname == "" {
		if host, err := e.DNS.LookupPTR(ctx, out.IP); err == nil && host != "" {
			out.Hostname = host
			if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
				out.HostnameDomain = domain
			}
		}
	}
	return &out, nil
}

// originASN queries origin(6).asn.cymru.com for the announcing AS, then the
// AS description zone for its name.
func (e *Enricher) originASN(ctx context.Context, ip string) (asn, name string) {
	if e.Telemetry != nil && e.Telemetry.InCooldown(providerCymru) {
		return "", ""
	}

	var zone string
	if rev, ok := dnsclient.ReverseIPv4(ip); ok {
		zone = rev + ".origin.asn.cymru.com"
	} else if rev, ok := dnsclient.ReverseIPv6(ip); ok {
		zone = rev + ".origin6.asn.cymru.com"
	} else {
		return "", ""
	}

	start := time.Now()
	txt, err := e.DNS.QueryTXT(ctx, zone)
	if err != nil || len(txt) == 0 {
		if e.Telemetry != nil && err != nil {
			e.Telemetry.RecordFailure(providerCymru, err.Error())
		}
		slog.Debug("Cymru origin lookup failed", "ip", ip, "error", err)
		return "", ""
	}
	if e.Telemetry != nil {
		e.Telemetry.RecordSuccess(providerCymru, time.Since(start))
	}

	fields := splitCymru(txt[0])
	if len(fields) == 0 {
		return "", ""
	}
	// Multi-origin prefixes list several ASNs separated by spaces.
	asn = strings.Fields(fields[0])[0]

	if desc, err := e.DNS.QueryTXT(ctx, "AS"+asn+".asn.cymru.com"); err == nil && len(desc) > 0 {
		if parts := splitCymru(desc[0]); len(parts) >= 5 {
			name = parts[4]
		}
	}
	return asn, name
}

func splitCymru(record string) []string {
	parts := strings.Split(record, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	if len(out) == 0 || out[0] == "" {
		return nil
	}
	return out
}
