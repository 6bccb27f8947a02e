// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const redisKeyPrefix = "signalguard:lookup:"

// Cache stores successful lookups by address.
type Cache interface {
	Get(ctx context.Context, ip string) (*models.Lookup, bool)
	Set(ctx context.Context, ip string, l *models.Lookup)
}

type MemoryCache struct {
	ttl *telemetry.TTLCache[models.Lookup]
}

func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: telemetry.NewTTLCache[models.Lookup]("lookups", maxSize, ttl)}
}

func (m *MemoryCache) Get(ctx context.Context, ip string) (*models.Lookup, bool) {
	l, ok := m.ttl.Get(ip)
	if !ok {
		return nil, false
	}
	return &l, true
}

func (m *MemoryCache) Set(ctx context.Context, ip string, l *models.Lookup) {
	m.ttl.Set(ip, *l)
}

func (m *MemoryCache) Stats() telemetry.CacheStats { return m.ttl.Stats() }

func (m *MemoryCache) Close() { m.ttl.Close() }

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// ConnectRedis parses url and pings the server. Callers treat an error as
// "run without the shared tier".
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, ip string) (*models.Lookup, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+ip).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis cache read failed", "ip", ip, "error", err)
		}
		return nil, false
	}
	var l models.Lookup
	if err := json.Unmarshal(raw, &l); err != nil {
		slog.Warn("Redis cache entry corrupt", "ip", ip, "error", err)
		return nil, false
	}
	return &l, true
}

func (r *RedisCache) Set(ctx context.Context, ip string, l *models.Lookup) {
	raw, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+ip, raw, r.ttl).Err(); err != nil {
		slog.Warn("Redis cache write failed", "ip", ip, "error", err)
	}
}

// CachedProvider reads through its tiers in order and backfills the faster
// ones on a hit further down. Self lookups and errors are never cached.
type CachedProvider struct {
	Next  Provider
	Tiers []Cache
}

func NewCachedProvider(next Provider, tiers ...Cache) *CachedProvider {
	var kept []Cache
	for _, t := range tiers {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &CachedProvider{Next: next, Tiers: kept}
}

func (c *CachedProvider) Lookup(ctx context.Context, ip string) (*models.Lookup, error) {
	if ip == "" {
		return c.Next.Lookup(ctx, ip)
	}

	for i, tier := range c.Tiers {
		if l, ok := tier.Get(ctx, ip); ok {
			for j := 0; j < i; j++ {
				c.Tiers[j].Set(ctx, ip, l)
			}
			slog.Debug("Lookup cache hit", "ip", ip, "tier", i)
			cp := *l
			return &cp, nil
		}
	}

	l, err := c.Next.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	for _, tier := range c.Tiers {
		tier.Set(ctx, ip, l)
	}
	return l, nil
}
