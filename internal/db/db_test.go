// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package db_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/00xf5/signal-guard-sub000/internal/db"
	"github.com/00xf5/signal-guard-sub000/internal/models"
)

func getTestDB(t *testing.T) *db.Database {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	database, err := db.Connect(dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return database
}

func TestHealthCheck(t *testing.T) {
	database := getTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := database.HealthCheck(ctx); err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
}

func TestSaveAndListScans(t *testing.T) {
	database := getTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := uuid.NewString()
	result, _ := json.Marshal(map[string]any{"ip": "192.0.2.44", "riskScore": 70})
	err := database.SaveScan(ctx, models.ScanRecord{
		ID: id, IP: "192.0.2.44", CountryCode: "US", ASN: "AS15169",
		RiskScore: 70, ThreatLevel: "high", Verified: true, Result: result,
	})
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	t.Cleanup(func() { database.Pool.Exec(context.Background(), "DELETE FROM scans WHERE id = $1", id) })

	scans, err := database.RecentScans(ctx, 10)
	if err != nil {
		t.Fatalf("RecentScans: %v", err)
	}
	found := false
	for _, s := range scans {
		if s.ID == id {
			found = true
			if s.ThreatLevel != "high" || !s.Verified || len(s.Result) == 0 {
				t.Errorf("round trip mismatch: %+v", s)
			}
		}
	}
	if !found {
		t.Errorf("saved scan %s not listed", id)
	}
}

func TestSaveScan_InvalidID(t *testing.T) {
	database := getTestDB(t)
	if err := database.SaveScan(context.Background(), models.ScanRecord{ID: "nope"}); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestConsumeAPIKey(t *testing.T) {
	database := getTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "test-" + uuid.NewString()
	if err := database.CreateAPIKey(ctx, key, 2); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	t.Cleanup(func() { database.Pool.Exec(context.Background(), "DELETE FROM api_access WHERE api_key = $1", key) })

	q, err := database.ConsumeAPIKey(ctx, key)
	if err != nil || q.Remaining != 1 || q.Limit != 2 {
		t.Fatalf("first use: %+v %v", q, err)
	}
	q, err = database.ConsumeAPIKey(ctx, key)
	if err != nil || q.Remaining != 0 {
		t.Fatalf("second use: %+v %v", q, err)
	}
	if _, err := database.ConsumeAPIKey(ctx, key); !errors.Is(err, db.ErrQuotaExhausted) {
		t.Errorf("expected ErrQuotaExhausted, got %v", err)
	}
	if _, err := database.ConsumeAPIKey(ctx, "missing-"+key); !errors.Is(err, db.ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got %v", err)
	}
}
