// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package scanner recognizes addresses run by internet-wide scanning
// projects and security vendors.
package scanner

import (
	"log/slog"
	"regexp"
	"strings"
)

type Classification struct {
	Known  bool
	Source string
}

var knownScannerHosts = []struct {
	Pattern *regexp.Regexp
	Source  string
}{
	{regexp.MustCompile(`(?i)(^|\.)shodan\.io$`), "Shodan"},
	{regexp.MustCompile(`(?i)(^|\.)censys-scanner\.com$`), "Censys"},
	{regexp.MustCompile(`(?i)(^|\.)censys\.io$`), "Censys"},
	{regexp.MustCompile(`(?i)(^|\.)shadowserver\.org$`), "Shadowserver"},
	{regexp.MustCompile(`(?i)(^|\.)binaryedge\.ninja$`), "BinaryEdge"},
	{regexp.MustCompile(`(?i)(^|\.)stretchoid\.com$`), "Stretchoid"},
	{regexp.MustCompile(`(?i)(^|\.)internet-measurement\.com$`), "Driftnet"},
	{regexp.MustCompile(`(?i)(^|\.)qualysperiscope\.com$`), "Qualys Periscope"},
	{regexp.MustCompile(`(?i)(^|\.)qualys\.com$`), "Qualys"},
	{regexp.MustCompile(`(?i)(^|\.)rapid7\.com$`), "Rapid7"},
	{regexp.MustCompile(`(?i)(^|\.)tenablesecurity\.com$`), "Tenable"},
	{regexp.MustCompile(`(?i)(^|\.)projectdiscovery\.io$`), "ProjectDiscovery"},
}

// Classify checks the reverse DNS name first and then the published ranges.
// networks may be nil.
func Classify(networks *Networks, ip, hostname string) Classification {
	host := strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if host != "" {
		for _, entry := range knownScannerHosts {
			if entry.Pattern.MatchString(host) {
				slog.Debug("Scanner hostname detected", "ip", ip, "hostname", host, "source", entry.Source)
				return Classification{Known: true, Source: entry.Source}
			}
		}
	}

	if networks.Contains(ip) {
		slog.Debug("Scanner network detected", "ip", ip, "source", networks.Source)
		return Classification{Known: true, Source: networks.Source}
	}
	return Classification{}
}
