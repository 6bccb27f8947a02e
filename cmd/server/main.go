// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/00xf5/signal-guard-sub000/internal/config"
	"github.com/00xf5/signal-guard-sub000/internal/db"
	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/handlers"
	"github.com/00xf5/signal-guard-sub000/internal/middleware"
	"github.com/00xf5/signal-guard-sub000/internal/scanner"
	"github.com/00xf5/signal-guard-sub000/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	dnsclient.SetUserAgentVersion(cfg.AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *db.Database
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			slog.Error("Failed to prepare database schema", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("DATABASE_URL not set, scan history and API keys disabled")
	}

	reg := telemetry.NewRegistry()
	chain, err := geo.NewChain(ctx, cfg, reg)
	if err != nil {
		slog.Error("Failed to initialize lookup provider", "error", err)
		os.Exit(1)
	}
	defer chain.Close()

	// Interface values stay nil when the database is off.
	var (
		store  handlers.ScanStore
		quota  middleware.QuotaStore
		health handlers.HealthChecker
	)
	if database != nil {
		store, quota, health = database, database, database
	}

	scanHandler := handlers.NewScanHandler(chain.Provider, store, handlers.Verification{
		SiteKey: cfg.TurnstileSiteKey,
		Secret:  cfg.TurnstileSecret,
		HTTP:    dnsclient.NewSafeHTTPClient(),
	})
	scanners := scanner.NewCISANetworks(nil)
	go scanners.Run(ctx, scanner.RefreshEvery)
	scanHandler.Scanners = scanners
	scanHandler.LeakTimeout = cfg.LeakTimeout()
	scanHandler.LookupTimeout = cfg.LookupTimeout()

	var caches []handlers.CacheStatter
	if chain.Memory != nil {
		caches = append(caches, chain.Memory)
	}
	healthHandler := handlers.NewHealthHandler(health, reg, cfg.AppVersion, caches...)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))
	router.Use(middleware.RequestContext())
	router.Use(middleware.SecurityHeaders())

	rateLimiter := middleware.NewInMemoryRateLimiter()
	slog.Info("Rate limiter initialized", "backend", "in-memory", "max_requests", middleware.RateLimitMaxRequests, "window_seconds", middleware.RateLimitWindow)

	router.GET("/api/health", healthHandler.HealthCheck)
	router.POST("/api/scan", middleware.ScanRateLimit(rateLimiter, handlers.ScanTarget), scanHandler.Scan)
	router.GET("/api/v1/scan",
		handlers.RequireIPParam(),
		middleware.ScanRateLimit(rateLimiter, handlers.QueryTarget),
		middleware.RequireAPIKey(quota),
		scanHandler.APIScan,
	)
	router.GET("/api/scans/recent", scanHandler.Recent)
	router.GET("/ws/scan", scanHandler.ScanSocket)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting SignalGuard server",
		"address", addr,
		"version", cfg.AppVersion,
		"provider", cfg.GeoProvider,
		"verification", cfg.VerificationEnabled(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}
