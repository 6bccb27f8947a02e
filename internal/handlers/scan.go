// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/00xf5/signal-guard-sub000/internal/dnsclient"
	"github.com/00xf5/signal-guard-sub000/internal/geo"
	"github.com/00xf5/signal-guard-sub000/internal/middleware"
	"github.com/00xf5/signal-guard-sub000/internal/models"
	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scan"
	"github.com/00xf5/signal-guard-sub000/internal/scanner"
	"github.com/00xf5/signal-guard-sub000/internal/verify"
)

const (
	mapKeyError = "error"

	defaultRecentLimit = 20
)

const msgInvalidIP = "Invalid IP address"

var errInvalidIP = errors.New("invalid IP address")

type ScanStore interface {
	SaveScan(ctx context.Context, rec models.ScanRecord) error
	RecentScans(ctx context.Context, limit int) ([]models.ScanRecord, error)
}

// Verification configures the Turnstile check. An empty Secret disables it
// and every scan reports verified=false.
type Verification struct {
	SiteKey   string
	Secret    string
	VerifyURL string
	HTTP      *dnsclient.SafeHTTPClient
}

type ScanHandler struct {
	Provider      geo.Provider
	Store         ScanStore
	Verification  Verification
	Scanners      *scanner.Networks
	LeakTimeout   time.Duration
	LookupTimeout time.Duration
}

func NewScanHandler(provider geo.Provider, store ScanStore, v Verification) *ScanHandler {
	return &ScanHandler{
		Provider:      provider,
		Store:         store,
		Verification:  v,
		LeakTimeout:   probe.DefaultLeakTimeout,
		LookupTimeout: scan.DefaultLookupTimeout,
	}
}

type scanRequest struct {
	IP             string   `json:"ip"`
	Timezone       string   `json:"timezone"`
	Languages      []string `json:"languages"`
	Webdriver      bool     `json:"webdriver"`
	Candidates     []string `json:"candidates"`
	TurnstileToken string   `json:"turnstile_token"`
}

func (h *ScanHandler) newOrchestrator(opts ...scan.Option) *scan.Orchestrator {
	opts = append([]scan.Option{
		scan.WithLookupTimeout(h.LookupTimeout),
		scan.WithScannerNetworks(h.Scanners),
	}, opts...)
	return scan.New(h.Provider, opts...)
}

// newGate builds a gate around the token one client submitted for one scan.
func (h *ScanHandler) newGate(remoteIP, token string) *verify.Gate {
	if h.Verification.Secret == "" {
		return nil
	}
	ch := verify.NewTurnstileChallenge(h.Verification.Secret, h.Verification.HTTP)
	if h.Verification.VerifyURL != "" {
		ch.VerifyURL = h.Verification.VerifyURL
	}
	ch.RemoteIP = remoteIP
	ch.Submit(token)
	return verify.NewGate(ch, h.Verification.SiteKey)
}

// resolveTarget normalizes the requested address. An empty request scans the
// caller; when the caller has no public address the provider resolves it.
func resolveTarget(clientIP, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		addr, err := netip.ParseAddr(clientIP)
		if err != nil || !addr.IsGlobalUnicast() || addr.IsPrivate() {
			return "", nil
		}
		return addr.Unmap().String(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", errInvalidIP
	}
	return addr.Unmap().String(), nil
}

// ScanTarget reports the address a POST /api/scan body asks for, for rate
// limiting. The body stays readable by the handler.
func ScanTarget(c *gin.Context) string {
	var req scanRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return ""
	}
	return strings.TrimSpace(req.IP)
}

// QueryTarget reports the ip query parameter for rate limiting.
func QueryTarget(c *gin.Context) string {
	return strings.TrimSpace(c.Query("ip"))
}

// RequireIPParam rejects API requests without a usable ip before any quota
// is spent.
func RequireIPParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := QueryTarget(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{mapKeyError: "Missing parameters"})
			return
		}
		if _, err := netip.ParseAddr(raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{mapKeyError: msgInvalidIP})
			return
		}
		c.Next()
	}
}

func (h *ScanHandler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{mapKeyError: "Invalid request body"})
		return
	}

	ip, err := resolveTarget(c.ClientIP(), req.IP)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{mapKeyError: msgInvalidIP})
		return
	}

	env := probe.FromRequest(req.Timezone, req.Languages, c.GetHeader("Accept-Language"), req.Webdriver)
	ctx := c.Request.Context()
	result, err := h.newOrchestrator().Scan(ctx, scan.Request{
		IP:          ip,
		Environment: &env,
		Leak:        probe.NewLeakProbe(probe.StaticCandidates(req.Candidates), h.LeakTimeout),
		Gate:        h.newGate(c.ClientIP(), req.TurnstileToken),
	})
	if err != nil {
		writeScanError(c, err)
		return
	}

	h.persist(ctx, result)
	c.JSON(http.StatusOK, result)
}

// APIScan serves key-authenticated lookups. There is no browser on the other
// end, so only the provider lookup contributes signals.
func (h *ScanHandler) APIScan(c *gin.Context) {
	ip, err := resolveTarget(c.ClientIP(), QueryTarget(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{mapKeyError: msgInvalidIP})
		return
	}

	ctx := c.Request.Context()
	result, err := h.newOrchestrator().Scan(ctx, scan.Request{IP: ip})
	if err != nil {
		writeScanError(c, err)
		return
	}
	h.persist(ctx, result)

	response := gin.H{
		"status": "success",
		"data":   result,
	}
	if quota, ok := middleware.QuotaFrom(c); ok {
		response["quota"] = gin.H{
			"remaining": quota.Remaining,
			"limit":     quota.Limit,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *ScanHandler) Recent(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{mapKeyError: "Scan history is disabled"})
		return
	}
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{mapKeyError: "Invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.Store.RecentScans(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Listing recent scans failed", "trace_id", middleware.TraceID(c.Request.Context()), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{mapKeyError: "Internal server error"})
		return
	}
	if records == nil {
		records = []models.ScanRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"scans": records, "count": len(records)})
}

func (h *ScanHandler) persist(ctx context.Context, r *scan.Result) {
	if h.Store == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		slog.Error("Encoding scan result failed", "scan_id", r.ScanID, "error", err)
		return
	}
	rec := models.ScanRecord{
		ID:          r.ScanID,
		IP:          r.IP,
		CountryCode: r.CountryCode,
		ASN:         r.ASN,
		RiskScore:   r.RiskScore,
		ThreatLevel: string(r.ThreatLevel),
		Verified:    r.Verified,
		Result:      raw,
	}
	if err := h.Store.SaveScan(ctx, rec); err != nil {
		slog.Error("Saving scan failed", "scan_id", r.ScanID, "ip", r.IP, "error", err)
	}
}

func scanErrorStatus(err error) (int, string) {
	var pe *scan.ProviderError
	switch {
	case errors.As(err, &pe) && pe.NotFound:
		return http.StatusBadRequest, pe.Error()
	case errors.As(err, &pe):
		return http.StatusBadGateway, "Location lookup failed"
	case errors.Is(err, scan.ErrSuperseded):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeScanError(c *gin.Context, err error) {
	status, msg := scanErrorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("Scan failed", "trace_id", middleware.TraceID(c.Request.Context()), "status", status, "error", err)
	}
	c.JSON(status, gin.H{mapKeyError: msg})
}
