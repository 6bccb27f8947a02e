// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package classifier

import (
	"log/slog"
	"strings"
)

type Match struct {
	Known  bool
	Reason string
	Source string
}

var knownInfraASNs = map[string]string{
	"212238": "Datacamp",
	"13335":  "Cloudflare",
	"15169":  "Google",
	"54113":  "Fastly",
	"16509":  "Amazon",
	"14061":  "DigitalOcean",
	"16276":  "OVH",
	"24940":  "Hetzner",
}

var knownInfraISPs = []struct {
	Substring string
	Source    string
}{
	{"datacamp", "Datacamp"},
	{"m247", "M247"},
	{"akamai", "Akamai"},
	{"cloudflare", "Cloudflare"},
	{"digitalocean", "DigitalOcean"},
	{"linode", "Linode"},
	{"ovh", "OVH"},
	{"hetzner", "Hetzner"},
	{"google cloud", "Google Cloud"},
	{"amazon technologies", "Amazon"},
	{"microsoft azure", "Microsoft Azure"},
}

// Classify reports whether the ASN or ISP name belongs to a known hosting,
// CDN or cloud operator.
func Classify(asn, isp string) bool {
	return Lookup(asn, isp).Known
}

func Lookup(asn, isp string) Match {
	if n := NormalizeASN(asn); n != "" {
		if source, ok := knownInfraASNs[n]; ok {
			m := Match{Known: true, Reason: "asn:" + n, Source: source}
			slog.Debug("Known infrastructure ASN", "asn", n, "source", source)
			return m
		}
	}

	lowered := strings.ToLower(isp)
	if lowered == "" {
		return Match{}
	}
	for _, entry := range knownInfraISPs {
		if strings.Contains(lowered, entry.Substring) {
			slog.Debug("Known infrastructure ISP", "isp", isp, "source", entry.Source)
			return Match{Known: true, Reason: "isp:" + entry.Substring, Source: entry.Source}
		}
	}
	return Match{}
}

// NormalizeASN strips whitespace and an optional AS prefix.
func NormalizeASN(asn string) string {
	asn = strings.TrimSpace(asn)
	if len(asn) > 2 && strings.EqualFold(asn[:2], "as") {
		asn = asn[2:]
	}
	return asn
}
