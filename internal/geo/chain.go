// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package geo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/00xf5/signal-guard-sub000/internal/config"
	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const memoryCacheSize = 10000

// Chain is the assembled lookup stack: a base provider, DNS enrichment and
// the cache tiers in front of them.
type Chain struct {
	Provider Provider
	Memory   *MemoryCache

	closers []func()
}

// NewChain builds the provider stack described by cfg. Redis is optional;
// when it cannot be reached the chain runs with the in-process tier only.
func NewChain(ctx context.Context, cfg *config.Config, reg *telemetry.Registry) (*Chain, error) {
	c := &Chain{}

	var base Provider
	switch cfg.GeoProvider {
	case config.ProviderGeoIP:
		g, err := OpenGeoIP(cfg.GeoIPCityDB, cfg.GeoIPASNDB)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { g.Close() })
		base = g
		slog.Info("GeoIP provider initialized", "city_db", cfg.GeoIPCityDB, "asn_db", cfg.GeoIPASNDB)
	case config.ProviderIPWhois:
		client := dnsclient.NewSafeHTTPClientWithTimeout(cfg.LookupTimeout())
		base = NewIPWhoisProvider(cfg.IPWhoisURL, client, reg)
		slog.Info("IP lookup provider initialized", "provider", providerIPWhois, "url", cfg.IPWhoisURL)
	default:
		return nil, fmt.Errorf("unknown geo provider %q", cfg.GeoProvider)
	}

	enriched := NewEnricher(base, dnsclient.New(), reg)

	if cfg.CacheTTL() <= 0 {
		slog.Info("Lookup caching disabled")
		c.Provider = enriched
		return c, nil
	}

	c.Memory = NewMemoryCache(memoryCacheSize, cfg.CacheTTL())
	c.closers = append(c.closers, c.Memory.Close)
	tiers := []Cache{c.Memory}

	if cfg.RedisURL != "" {
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable, using in-process cache only", "error", err)
		} else {
			c.closers = append(c.closers, func() { client.Close() })
			tiers = append(tiers, NewRedisCache(client, cfg.CacheTTL()))
			slog.Info("Redis lookup cache connected")
		}
	}

	c.Provider = NewCachedProvider(enriched, tiers...)
	return c, nil
}

func (c *Chain) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
