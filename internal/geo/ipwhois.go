// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const (
	DefaultIPWhoisURL   = "https://ipwho.is"
	providerIPWhois     = "ipwhois"
	maxProviderBodySize = 1 << 20
)

type IPWhoisProvider struct {
	BaseURL   string
	HTTP      *dnsclient.SafeHTTPClient
	Telemetry *telemetry.Registry
}

func NewIPWhoisProvider(baseURL string, client *dnsclient.SafeHTTPClient, reg *telemetry.Registry) *IPWhoisProvider {
	if baseURL == "" {
		baseURL = DefaultIPWhoisURL
	}
	if client == nil {
		client = dnsclient.NewSafeHTTPClient()
	}
	return &IPWhoisProvider{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: client, Telemetry: reg}
}

type ipwhoisResponse struct {
	Success     *bool  `json:"success"`
	Message     string `json:"message"`
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Timezone    struct {
		ID string `json:"id"`
	} `json:"timezone"`
	Connection struct {
		ASN    json.RawMessage `json:"asn"`
		Org    string          `json:"org"`
		ISP    string          `json:"isp"`
		Domain string          `json:"domain"`
	} `json:"connection"`
	Security struct {
		VPN     bool `json:"vpn"`
		Proxy   bool `json:"proxy"`
		Relay   bool `json:"relay"`
		Tor     bool `json:"tor"`
		Hosting bool `json:"hosting"`
	} `json:"security"`
}

func (p *IPWhoisProvider) Lookup(ctx context.Context, ip string) (*models.Lookup, error) {
	if p.Telemetry != nil && p.Telemetry.InCooldown(providerIPWhois) {
		return nil, fmt.Errorf("%s is cooling down after repeated failures", providerIPWhois)
	}

	start := time.Now()
	l, err := p.fetch(ctx, ip)
	if p.Telemetry != nil {
		switch {
		case err == nil, isNotFound(err):
			p.Telemetry.RecordSuccess(providerIPWhois, time.Since(start))
		default:
			p.Telemetry.RecordFailure(providerIPWhois, err.Error())
		}
	}
	return l, err
}

func (p *IPWhoisProvider) fetch(ctx context.Context, ip string) (*models.Lookup, error) {
	target := p.BaseURL + "/" + url.PathEscape(strings.TrimSpace(ip))
	resp, err := p.HTTP.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("ipwhois request: %w", err)
	}
	body, err := p.HTTP.ReadBody(resp, maxProviderBodySize)
	if err != nil {
		return nil, fmt.Errorf("ipwhois read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipwhois returned HTTP %d", resp.StatusCode)
	}

	var data ipwhoisResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("ipwhois decode: %w", err)
	}
	if data.Success != nil && !*data.Success {
		msg := data.Message
		if msg == "" {
			msg = "Invalid IP"
		}
		slog.Debug("ipwhois refused lookup", "ip", ip, "message", msg)
		return nil, &NotFoundError{Message: msg}
	}

	return &models.Lookup{
		IP:          data.IP,
		Country:     data.Country,
		CountryCode: data.CountryCode,
		City:        data.City,
		Region:      data.Region,
		Timezone:    data.Timezone.ID,
		ISP:         data.Connection.ISP,
		Org:         data.Connection.Org,
		ASN:         asnString(data.Connection.ASN),
		Security: models.SecurityFlags{
			VPN:     data.Security.VPN,
			Proxy:   data.Security.Proxy,
			Relay:   data.Security.Relay,
			Tor:     data.Security.Tor,
			Hosting: data.Security.Hosting,
		},
		HostnameDomain: data.Connection.Domain,
		Source:         providerIPWhois,
	}, nil
}

// asnString accepts the ASN as a JSON number or string. Zero, null and
// false all mean absent.
func asnString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if s := n.String(); s != "0" {
			return s
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}
