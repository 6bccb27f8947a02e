// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/00xf5/signal-guard-sub000/internal/models"
)

var (
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrQuotaExhausted = errors.New("quota exhausted")
)

const maxRecentScans = 100

func (d *Database) SaveScan(ctx context.Context, rec models.ScanRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("scan id %q: %w", rec.ID, err)
	}
	_, err = d.Pool.Exec(ctx, `
		INSERT INTO scans (id, ip, country_code, asn, risk_score, threat_level, verified, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.IP, rec.CountryCode, rec.ASN, rec.RiskScore, rec.ThreatLevel, rec.Verified, []byte(rec.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

func (d *Database) RecentScans(ctx context.Context, limit int) ([]models.ScanRecord, error) {
	if limit <= 0 || limit > maxRecentScans {
		limit = maxRecentScans
	}
	rows, err := d.Pool.Query(ctx, `
		SELECT id::text, ip, country_code, asn, risk_score, threat_level, verified, result, created_at
		FROM scans ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var out []models.ScanRecord
	for rows.Next() {
		var r models.ScanRecord
		var raw []byte
		if err := rows.Scan(&r.ID, &r.IP, &r.CountryCode, &r.ASN, &r.RiskScore, &r.ThreatLevel, &r.Verified, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Result = raw
		out = append(out, r)
	}
	return out, rows.Err()
}

type Quota struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// ConsumeAPIKey spends one unit of the key's quota. The increment is a single
// conditional update, so concurrent callers cannot overspend.
func (d *Database) ConsumeAPIKey(ctx context.Context, key string) (Quota, error) {
	if key == "" {
		return Quota{}, ErrInvalidAPIKey
	}

	var q Quota
	err := d.Pool.QueryRow(ctx, `
		UPDATE api_access SET usage_count = usage_count + 1
		WHERE api_key = $1 AND usage_count < max_usage
		RETURNING usage_count, max_usage`, key).Scan(&q.Used, &q.Limit)
	if err == nil {
		q.Remaining = q.Limit - q.Used
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Quota{}, fmt.Errorf("failed to consume quota: %w", err)
	}

	err = d.Pool.QueryRow(ctx, `SELECT usage_count, max_usage FROM api_access WHERE api_key = $1`, key).Scan(&q.Used, &q.Limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quota{}, ErrInvalidAPIKey
	}
	if err != nil {
		return Quota{}, fmt.Errorf("failed to read quota: %w", err)
	}
	return q, ErrQuotaExhausted
}

// CreateAPIKey inserts a key with the given quota. Used by tests and local
// setup; issuing keys to customers happens elsewhere.
func (d *Database) CreateAPIKey(ctx context.Context, key string, maxUsage int) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO api_access (api_key, max_usage) VALUES ($1, $2)
		ON CONFLICT (api_key) DO UPDATE SET max_usage = EXCLUDED.max_usage, usage_count = 0`, key, maxUsage)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}
