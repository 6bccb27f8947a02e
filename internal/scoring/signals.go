// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scoring

import (
	"strings"

	"github.com/00xf5/signal-guard-sub000/internal/models"
)

const (
	ConnectionInfrastructure = "Infrastructure"
	ConnectionResidential    = "Residential"

	UsageVPN      = "VPN Tunnel"
	UsageCloud    = "Cloud/Server"
	UsageConsumer = "Consumer"
)

// Identity is the network classification derived from a provider lookup and
// the infrastructure classifier.
type Identity struct {
	KnownInfra  bool
	VPN         bool
	Proxy       bool
	Tor         bool
	Hosting     bool
	Residential bool

	ConnectionType string
	UsageType      string
}

// Bundle holds every signal the engine scores. It is built once per scan.
type Bundle struct {
	Identity

	RawVPN bool
	ISP    string

	LeakedIP string
	Leaked   bool

	TZMismatch   bool
	LangMismatch bool
	Automation   bool

	Token string
}

func Derive(l *models.Lookup, knownInfra bool) Identity {
	isp := strings.ToLower(l.ISP)

	id := Identity{KnownInfra: knownInfra}
	id.VPN = l.Security.VPN || (knownInfra && !strings.Contains(isp, "consumer"))
	id.Proxy = l.Security.Proxy || l.Security.Relay
	id.Tor = l.Security.Tor
	id.Hosting = l.Security.Hosting || (knownInfra && !id.VPN)
	id.Residential = !knownInfra && !id.Hosting && !id.VPN && !id.Proxy && !id.Tor

	if id.Hosting || knownInfra {
		id.ConnectionType = ConnectionInfrastructure
	} else {
		id.ConnectionType = ConnectionResidential
	}

	switch {
	case id.VPN:
		id.UsageType = UsageVPN
	case id.Hosting:
		id.UsageType = UsageCloud
	default:
		id.UsageType = UsageConsumer
	}
	return id
}

func (b Bundle) IsBot() bool {
	return b.Automation || (b.Hosting && (b.VPN || b.Proxy))
}

func (b Bundle) consumerISP() bool {
	return strings.Contains(strings.ToLower(b.ISP), "consumer")
}
