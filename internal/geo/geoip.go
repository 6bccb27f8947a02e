// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"github.com/00xf5/signal-guard-sub000/internal/models"
)

const providerGeoIP = "geoip"

var ErrSelfLookup = errors.New("offline database cannot resolve the caller's own address")

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// GeoIPProvider answers from local MaxMind databases. The ASN database is
// optional. Offline data carries no VPN or hosting verdicts, so only the
// anonymous-proxy trait is mapped.
type GeoIPProvider struct {
	city cityReader
	asn  asnReader
}

func OpenGeoIP(cityPath, asnPath string) (*GeoIPProvider, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	p := &GeoIPProvider{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("open ASN database: %w", err)
		}
		p.asn = asn
	}
	return p, nil
}

func (p *GeoIPProvider) Lookup(ctx context.Context, ip string) (*models.Lookup, error) {
	if ip == "" {
		return nil, ErrSelfLookup
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, &NotFoundError{Message: "Invalid IP address"}
	}

	rec, err := p.city.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip city lookup: %w", err)
	}

	l := &models.Lookup{
		IP:          parsed.String(),
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.IsoCode,
		City:        rec.City.Names["en"],
		Timezone:    rec.Location.TimeZone,
		Source:      providerGeoIP,
	}
	if len(rec.Subdivisions) > 0 {
		l.Region = rec.Subdivisions[0].Names["en"]
	}
	l.Security.Proxy = rec.Traits.IsAnonymousProxy

	if p.asn != nil {
		if a, err := p.asn.ASN(parsed); err == nil && a.AutonomousSystemNumber != 0 {
			l.ASN = strconv.FormatUint(uint64(a.AutonomousSystemNumber), 10)
			l.ISP = a.AutonomousSystemOrganization
			l.Org = a.AutonomousSystemOrganization
		}
	}
	return l, nil
}

func (p *GeoIPProvider) Close() error {
	var errs []error
	if p.city != nil {
		errs = append(errs, p.city.Close())
	}
	if p.asn != nil {
		errs = append(errs, p.asn.Close())
	}
	return errors.Join(errs...)
}
