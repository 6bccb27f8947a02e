// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/00xf5/signal-guard-sub000/internal/db"
)

const (
	APIKeyHeader = "X-API-Key"
	QuotaKey     = "api_quota"
)

type QuotaStore interface {
	ConsumeAPIKey(ctx context.Context, key string) (db.Quota, error)
}

// RequireAPIKey spends one unit of the caller's quota before the handler
// runs. The resulting quota is stored under QuotaKey.
func RequireAPIKey(store QuotaStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "API access requires a database"})
			return
		}
		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
			return
		}

		quota, err := store.ConsumeAPIKey(c.Request.Context(), key)
		switch {
		case errors.Is(err, db.ErrInvalidAPIKey):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key"})
			return
		case errors.Is(err, db.ErrQuotaExhausted):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Quota exhausted"})
			return
		case err != nil:
			traceID, _ := c.Get("trace_id")
			slog.Error("Quota check failed", "trace_id", traceID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.Set(QuotaKey, quota)
		c.Next()
	}
}

func QuotaFrom(c *gin.Context) (db.Quota, bool) {
	v, ok := c.Get(QuotaKey)
	if !ok {
		return db.Quota{}, false
	}
	q, ok := v.(db.Quota)
	return q, ok
}
