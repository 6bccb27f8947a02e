// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scoring

import "math"

type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"

	Baseline = 5.0

	maxScore = 100.0
)

// Scores carries display values (one decimal, clamped to [0,100]) plus the
// unclamped risk the threat level was derived from.
type Scores struct {
	Risk      float64     `json:"risk"`
	Anonymity float64     `json:"anonymity"`
	Fraud     float64     `json:"fraud"`
	Abuse     float64     `json:"abuse"`
	RawRisk   float64     `json:"raw_risk"`
	Threat    ThreatLevel `json:"threat_level"`
}

func Score(b Bundle) Scores {
	risk := riskScore(b)
	return Scores{
		Risk:      Display(risk),
		Anonymity: Display(anonymityScore(b)),
		Fraud:     Display(fraudScore(b)),
		Abuse:     Display(abuseScore(b)),
		RawRisk:   risk,
		Threat:    ThreatLevelFor(risk),
	}
}

func riskScore(b Bundle) float64 {
	s := Baseline
	if b.Tor {
		s += 80
	} else if b.VPN || b.Proxy {
		s += 45
	}
	if b.KnownInfra && !b.RawVPN {
		s += 20
	}
	if b.Leaked {
		s += 25
	}
	if b.TZMismatch {
		s += 12
	}
	if b.LangMismatch {
		s += 8
	}
	if b.Automation {
		s += 30
	}
	if b.Hosting && !b.VPN {
		s += 15
	}
	return s
}

func anonymityScore(b Bundle) float64 {
	s := Baseline
	if b.Tor {
		s += 90
	} else if b.VPN || b.Proxy {
		s += 65
	}
	if b.KnownInfra {
		s += 15
	}
	if b.TZMismatch {
		s += 20
	}
	if b.Leaked {
		s += 15
	}
	if b.Hosting {
		s += 10
	}
	return s
}

func fraudScore(b Bundle) float64 {
	s := Baseline
	if b.Tor {
		s += 85
	}
	if b.VPN || (b.KnownInfra && !b.consumerISP()) {
		s += 40
	}
	if b.Automation {
		s += 60
	}
	if b.Hosting {
		s += 30
	}
	if b.TZMismatch && (b.VPN || b.Proxy) {
		s += 25
	}
	if b.Token == "" {
		s += 5
	}
	return s
}

func abuseScore(b Bundle) float64 {
	s := Baseline
	if b.Tor {
		s += 75
	}
	if b.Hosting || b.KnownInfra {
		s += 45
	}
	if b.Automation {
		s += 55
	}
	if b.Proxy {
		s += 25
	}
	return s
}

// ThreatLevelFor buckets a risk value. Callers pass the unclamped risk, so a
// displayed 100 can still map from any raw value at or above 75.
func ThreatLevelFor(risk float64) ThreatLevel {
	switch {
	case risk < 20:
		return ThreatLow
	case risk < 45:
		return ThreatMedium
	case risk < 75:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}

func Display(v float64) float64 {
	v = math.Round(v*10) / 10
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
