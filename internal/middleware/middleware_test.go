// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package middleware_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/00xf5/signal-guard-sub000/internal/db"
	"github.com/00xf5/signal-guard-sub000/internal/middleware"
)

const (
	msgExpect200       = "expected 200, got %d"
	testTarget         = "203.0.113.10"
	msgFirstReqAllowed = "first request should be allowed"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestRateLimitAllowsInitial(t *testing.T) {
	limiter := middleware.NewInMemoryRateLimiter()
	if result := limiter.CheckAndRecord("192.168.1.1", testTarget); !result.Allowed {
		t.Fatalf("expected initial request to be allowed, got %s", result.Reason)
	}
}

func TestRateLimitBlocksAfterMax(t *testing.T) {
	limiter := middleware.NewInMemoryRateLimiter()
	for i := 0; i < middleware.RateLimitMaxRequests; i++ {
		if r := limiter.CheckAndRecord("10.0.0.1", fmt.Sprintf("198.51.100.%d", i)); !r.Allowed {
			t.Fatalf("request %d should be allowed, got %s", i+1, r.Reason)
		}
	}
	r := limiter.CheckAndRecord("10.0.0.1", "198.51.100.200")
	if r.Allowed || r.Reason != middleware.ReasonRateLimit {
		t.Fatalf("expected rate_limit block, got %+v", r)
	}
	if r.WaitSeconds < 1 || r.WaitSeconds > 61 {
		t.Errorf("unexpected wait %d", r.WaitSeconds)
	}
}

func TestAntiRepeat(t *testing.T) {
	limiter := middleware.NewInMemoryRateLimiter()
	if !limiter.CheckAndRecord("10.0.0.2", testTarget).Allowed {
		t.Fatal(msgFirstReqAllowed)
	}
	r := limiter.CheckAndRecord("10.0.0.2", " "+testTarget+" ")
	if r.Allowed || r.Reason != middleware.ReasonAntiRepeat {
		t.Fatalf("expected anti_repeat, got %+v", r)
	}
	if !limiter.CheckAndRecord("10.0.0.2", "198.51.100.1").Allowed {
		t.Error("different target should be allowed")
	}
	if !limiter.CheckAndRecord("10.0.0.9", testTarget).Allowed {
		t.Error("another client scanning the same target should be allowed")
	}
}

func TestAntiRepeatCaseInsensitive(t *testing.T) {
	limiter := middleware.NewInMemoryRateLimiter()
	limiter.CheckAndRecord("10.0.0.4", "2001:DB8::1")
	if r := limiter.CheckAndRecord("10.0.0.4", "2001:db8::1"); r.Reason != middleware.ReasonAntiRepeat {
		t.Fatalf("expected anti_repeat, got %+v", r)
	}
}

func TestSelfScansSkipAntiRepeat(t *testing.T) {
	limiter := middleware.NewInMemoryRateLimiter()
	for i := 0; i < 3; i++ {
		if !limiter.CheckAndRecord("10.0.0.5", "").Allowed {
			t.Fatalf("self scan %d should only count against the budget", i)
		}
	}
}

func TestScanRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(middleware.ScanRateLimit(middleware.NewInMemoryRateLimiter(), func(c *gin.Context) string {
		return c.Query("ip")
	}))
	router.GET("/scan", okHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/scan?ip="+testTarget, nil))
	if w.Code != http.StatusOK {
		t.Fatalf(msgExpect200, w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/scan?ip="+testTarget, nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["reason"] != middleware.ReasonAntiRepeat {
		t.Errorf("unexpected body %v", body)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	router := gin.New()
	router.Use(middleware.RequestContext())
	router.Use(middleware.SecurityHeaders())
	router.GET("/test", okHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	if w.Code != http.StatusOK {
		t.Fatalf(msgExpect200, w.Code)
	}

	checks := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for header, expected := range checks {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("expected %s: %s, got: %s", header, expected, got)
		}
	}
	if w.Header().Get("X-Trace-Id") == "" {
		t.Error("missing trace id header")
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src https://challenges.cloudflare.com") {
		t.Errorf("CSP should allow the challenge frame: %s", csp)
	}
	if strings.Contains(csp, "upgrade-insecure-requests") {
		t.Error("CSP should not upgrade plain HTTP requests")
	}
}

func TestSecurityHeadersUpgradeInsecureHTTPS(t *testing.T) {
	router := gin.New()
	router.Use(middleware.SecurityHeaders())
	router.GET("/test", okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "upgrade-insecure-requests") {
		t.Error("CSP should contain upgrade-insecure-requests for HTTPS requests")
	}
}

func TestRecoveryReturnsJSON(t *testing.T) {
	router := gin.New()
	router.Use(middleware.RequestContext())
	router.Use(middleware.Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["trace_id"] == "" || body["error"] == nil {
		t.Errorf("unexpected body %v", body)
	}
}

type fakeQuotaStore struct {
	quota db.Quota
	err   error
	keys  []string
}

func (f *fakeQuotaStore) ConsumeAPIKey(ctx context.Context, key string) (db.Quota, error) {
	f.keys = append(f.keys, key)
	return f.quota, f.err
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		store  *fakeQuotaStore
		status int
	}{
		{"missing key", "", &fakeQuotaStore{}, http.StatusBadRequest},
		{"invalid key", "k", &fakeQuotaStore{err: db.ErrInvalidAPIKey}, http.StatusUnauthorized},
		{"exhausted", "k", &fakeQuotaStore{err: db.ErrQuotaExhausted}, http.StatusTooManyRequests},
		{"store failure", "k", &fakeQuotaStore{err: fmt.Errorf("conn reset")}, http.StatusInternalServerError},
		{"ok", "k", &fakeQuotaStore{quota: db.Quota{Used: 1, Limit: 10, Remaining: 9}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/v1", middleware.RequireAPIKey(tt.store), func(c *gin.Context) {
				q, ok := middleware.QuotaFrom(c)
				if !ok || q.Remaining != 9 {
					t.Errorf("quota not propagated: %+v", q)
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/v1", nil)
			if tt.key != "" {
				req.Header.Set(middleware.APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRequireAPIKey_NoStore(t *testing.T) {
	router := gin.New()
	router.GET("/v1", middleware.RequireAPIKey(nil), okHandler)
	req := httptest.NewRequest("GET", "/v1", nil)
	req.Header.Set(middleware.APIKeyHeader, "k")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
