// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	RateLimitWindow      = 60 * time.Second
	RateLimitMaxRequests = 10
	AntiRepeatWindow     = 15 * time.Second

	ReasonRateLimit  = "rate_limit"
	ReasonAntiRepeat = "anti_repeat"
)

type RateLimitResult struct {
	Allowed     bool
	Reason      string
	WaitSeconds int
}

type RateLimiter interface {
	CheckAndRecord(client, target string) RateLimitResult
}

type requestEntry struct {
	at     time.Time
	target string
}

// InMemoryRateLimiter allows RateLimitMaxRequests scans per client per
// window and refuses a repeat scan of the same target within
// AntiRepeatWindow.
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]requestEntry
	now      func() time.Time
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		requests: make(map[string][]requestEntry),
		now:      time.Now,
	}
	go l.cleanupLoop()
	return l
}

func (l *InMemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for client, entries := range l.requests {
			if kept := pruneOld(entries, now); len(kept) > 0 {
				l.requests[client] = kept
			} else {
				delete(l.requests, client)
			}
		}
		l.mu.Unlock()
	}
}

func pruneOld(entries []requestEntry, now time.Time) []requestEntry {
	cutoff := now.Add(-RateLimitWindow)
	kept := entries[:0]
	for _, e := range entries {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func waitSeconds(until time.Time, now time.Time) int {
	w := int(until.Sub(now).Seconds()) + 1
	if w < 1 {
		w = 1
	}
	return w
}

func (l *InMemoryRateLimiter) CheckAndRecord(client, target string) RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	target = strings.ToLower(strings.TrimSpace(target))
	entries := pruneOld(l.requests[client], now)
	l.requests[client] = entries

	if len(entries) >= RateLimitMaxRequests {
		return RateLimitResult{Reason: ReasonRateLimit, WaitSeconds: waitSeconds(entries[0].at.Add(RateLimitWindow), now)}
	}

	repeatCutoff := now.Add(-AntiRepeatWindow)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].at.Before(repeatCutoff) {
			break
		}
		if target != "" && entries[i].target == target {
			return RateLimitResult{Reason: ReasonAntiRepeat, WaitSeconds: waitSeconds(entries[i].at.Add(AntiRepeatWindow), now)}
		}
	}

	l.requests[client] = append(entries, requestEntry{at: now, target: target})
	return RateLimitResult{Allowed: true, Reason: "ok"}
}

// ScanRateLimit throttles scan endpoints. target extracts the address being
// scanned; self scans pass "" and are only subject to the request budget.
func ScanRateLimit(limiter RateLimiter, target func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := ""
		if target != nil {
			t = target(c)
		}
		client := c.ClientIP()
		result := limiter.CheckAndRecord(client, t)
		if result.Allowed {
			c.Next()
			return
		}

		traceID, _ := c.Get("trace_id")
		slog.Info("Rate limit triggered",
			"trace_id", traceID,
			"client", client,
			"target", t,
			"reason", result.Reason,
			"wait_seconds", result.WaitSeconds,
		)

		msg := fmt.Sprintf("Rate limit reached. Please wait %d seconds before trying again.", result.WaitSeconds)
		if result.Reason == ReasonAntiRepeat {
			msg = fmt.Sprintf("This address was scanned moments ago. Please wait %d seconds before scanning it again.", result.WaitSeconds)
		}
		c.Header("Retry-After", fmt.Sprint(result.WaitSeconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":        msg,
			"reason":       result.Reason,
			"wait_seconds": result.WaitSeconds,
		})
	}
}
