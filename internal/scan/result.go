// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scan

import (
	"github.com/00xf5/signal-guard-sub000/internal/classifier"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scoring"
)

const notAvailable = "N/A"

type Result struct {
	ScanID      string `json:"scanId"`
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Timezone    string `json:"timezone"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	ASN         string `json:"asn"`
	Hostname    string `json:"hostname,omitempty"`

	RiskScore      float64 `json:"riskScore"`
	AnonymityScore float64 `json:"anonymityScore"`
	FraudScore     float64 `json:"fraudScore"`
	AbuseScore     float64 `json:"abuseScore"`

	IsVPN         bool `json:"isVPN"`
	IsProxy       bool `json:"isProxy"`
	IsTor         bool `json:"isTor"`
	IsBot         bool `json:"isBot"`
	IsHosting     bool `json:"isHosting"`
	IsResidential bool `json:"isResidential"`

	ResponseTime   int64               `json:"responseTime"`
	ConnectionType string              `json:"connectionType"`
	ThreatLevel    scoring.ThreatLevel `json:"threatLevel"`
	UsageType      string              `json:"usageType"`
	WebRTCLeakedIP string              `json:"webrtcLeakedIp,omitempty"`
	KnownScanner   string              `json:"knownScanner,omitempty"`
	LangMismatch   bool                `json:"langMismatch"`
	TZMismatch     bool                `json:"tzMismatch"`

	Verified bool   `json:"verified"`
	LastSeen string `json:"lastSeen"`
}

func orNA(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return notAvailable
}

func displayASN(asns ...string) string {
	var n string
	for _, a := range asns {
		if n = classifier.NormalizeASN(a); n != "" {
			break
		}
	}
	if n == "" {
		return notAvailable
	}
	return "AS" + n
}

func buildResult(id string, l *models.Lookup, b scoring.Bundle, s scoring.Scores, sig probe.EnvironmentSignals, elapsedMs int64) *Result {
	return &Result{
		ScanID:      id,
		IP:          l.IP,
		Country:     l.Country,
		CountryCode: l.CountryCode,
		City:        l.City,
		Region:      l.Region,
		Timezone:    orNA(l.Timezone),
		ISP:         orNA(l.ISP, l.OriginISP),
		Org:         orNA(l.Org, l.ISP, l.OriginISP),
		ASN:         displayASN(l.ASN, l.OriginASN),
		Hostname:    l.Hostname,

		RiskScore:      s.Risk,
		AnonymityScore: s.Anonymity,
		FraudScore:     s.Fraud,
		AbuseScore:     s.Abuse,

		IsVPN:         b.VPN,
		IsProxy:       b.Proxy,
		IsTor:         b.Tor,
		IsBot:         b.IsBot(),
		IsHosting:     b.Hosting,
		IsResidential: b.Residential,

		ResponseTime:   elapsedMs,
		ConnectionType: b.ConnectionType,
		ThreatLevel:    s.Threat,
		UsageType:      b.UsageType,
		WebRTCLeakedIP: b.LeakedIP,
		LangMismatch:   sig.LangMismatch,
		TZMismatch:     sig.TZMismatch,

		Verified: b.Token != "",
		LastSeen: "Just now",
	}
}
