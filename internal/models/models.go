// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package models

import (
	"encoding/json"
	"time"
)

// Lookup is the provider's view of a queried address. It is not modified
// after the provider returns it.
type Lookup struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Timezone    string `json:"timezone"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	ASN         string `json:"asn"`

	Security SecurityFlags `json:"security"`

	// OriginASN and OriginISP come from DNS enrichment. They are shown when
	// the provider left ASN or ISP empty and never feed classification.
	OriginASN string `json:"origin_asn,omitempty"`
	OriginISP string `json:"origin_isp,omitempty"`

	Hostname       string `json:"hostname,omitempty"`
	HostnameDomain string `json:"hostname_domain,omitempty"`
	Source         string `json:"source"`
}

type SecurityFlags struct {
	VPN     bool `json:"vpn"`
	Proxy   bool `json:"proxy"`
	Relay   bool `json:"relay"`
	Tor     bool `json:"tor"`
	Hosting bool `json:"hosting"`
}

type ScanRecord struct {
	ID          string          `json:"id" db:"id"`
	IP          string          `json:"ip" db:"ip"`
	CountryCode string          `json:"country_code" db:"country_code"`
	ASN         string          `json:"asn" db:"asn"`
	RiskScore   float64         `json:"risk_score" db:"risk_score"`
	ThreatLevel string          `json:"threat_level" db:"threat_level"`
	Verified    bool            `json:"verified" db:"verified"`
	Result      json.RawMessage `json:"result" db:"result"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
