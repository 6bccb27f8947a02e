// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type CacheStatter interface {
	Stats() telemetry.CacheStats
}

type HealthHandler struct {
	DB        HealthChecker
	Telemetry *telemetry.Registry
	Caches    []CacheStatter
	Version   string
	StartTime time.Time
}

func NewHealthHandler(database HealthChecker, reg *telemetry.Registry, version string, caches ...CacheStatter) *HealthHandler {
	return &HealthHandler{
		DB:        database,
		Telemetry: reg,
		Caches:    caches,
		Version:   version,
		StartTime: time.Now(),
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	dbStatus := "disabled"
	if h.DB != nil {
		dbStatus = "healthy"
		if err := h.DB.HealthCheck(c.Request.Context()); err != nil {
			dbStatus = "unhealthy: " + err.Error()
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := gin.H{
		"status":  "ok",
		"version": h.Version,
		"uptime":  time.Since(h.StartTime).String(),
		"database": gin.H{
			"status": dbStatus,
		},
		"memory": gin.H{
			"alloc_mb":       memStats.Alloc / 1024 / 1024,
			"num_goroutines": runtime.NumGoroutine(),
		},
	}

	var providerStats []telemetry.ProviderStats
	if h.Telemetry != nil {
		providerStats = h.Telemetry.AllStats()
	}
	providers := make([]gin.H, 0, len(providerStats))
	overall := telemetry.Healthy
	for _, ps := range providerStats {
		p := gin.H{
			"name":                 ps.Name,
			"state":                string(ps.State),
			"total_requests":       ps.Requests,
			"success_count":        ps.Successes,
			"failure_count":        ps.Failures,
			"consecutive_failures": ps.ConsecFailures,
			"avg_latency_ms":       ps.AvgLatencyMs,
			"p95_latency_ms":       ps.P95LatencyMs,
			"in_cooldown":          ps.InCooldown,
		}
		if ps.LastError != "" {
			p["last_error"] = ps.LastError
		}
		if ps.LastErrorAt != nil {
			p["last_error_time"] = ps.LastErrorAt.Format(time.RFC3339)
		}
		if ps.LastSuccessAt != nil {
			p["last_success_time"] = ps.LastSuccessAt.Format(time.RFC3339)
		}
		if ps.InCooldown && ps.CooldownUntil != nil {
			p["cooldown_until"] = ps.CooldownUntil.Format(time.RFC3339)
		}
		providers = append(providers, p)

		switch {
		case ps.State == telemetry.Unhealthy:
			overall = telemetry.Unhealthy
		case ps.State == telemetry.Degraded && overall != telemetry.Unhealthy:
			overall = telemetry.Degraded
		}
	}

	caches := make([]gin.H, 0, len(h.Caches))
	for _, cache := range h.Caches {
		cs := cache.Stats()
		caches = append(caches, gin.H{
			"name":     cs.Name,
			"size":     cs.Size,
			"max_size": cs.MaxSize,
			"hits":     cs.Hits,
			"misses":   cs.Misses,
			"hit_rate": cs.HitRate,
		})
	}

	response["providers"] = providers
	response["caches"] = caches
	response["overall_provider_health"] = string(overall)

	c.JSON(http.StatusOK, response)
}
