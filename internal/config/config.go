// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderIPWhois = "ipwhois"
	ProviderGeoIP   = "geoip"

	maxLeakTimeoutMs = 1000
)

// Config holds runtime settings. Values come from the YAML file named by
// SIGNALGUARD_CONFIG when set, and environment variables override the file.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	AppVersion  string `yaml:"app_version"`
	LogLevel    string `yaml:"log_level"`

	GeoProvider string `yaml:"geo_provider"`
	IPWhoisURL  string `yaml:"ipwhois_url"`
	GeoIPCityDB string `yaml:"geoip_city_db"`
	GeoIPASNDB  string `yaml:"geoip_asn_db"`

	STUNServer      string `yaml:"stun_server"`
	LeakTimeoutMs   int    `yaml:"leak_timeout_ms"`
	LookupTimeoutMs int    `yaml:"lookup_timeout_ms"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`

	TurnstileSiteKey string `yaml:"turnstile_site_key"`
	TurnstileSecret  string `yaml:"turnstile_secret"`
}

func defaults() *Config {
	return &Config{
		Port:            "5000",
		AppVersion:      "1.0.0",
		LogLevel:        "info",
		GeoProvider:     ProviderIPWhois,
		IPWhoisURL:      "https://ipwho.is",
		STUNServer:      "stun.l.google.com:19302",
		LeakTimeoutMs:   1000,
		LookupTimeoutMs: 10000,
		CacheTTLMinutes: 1440,
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SIGNALGUARD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":               &c.Port,
		"DATABASE_URL":       &c.DatabaseURL,
		"REDIS_URL":          &c.RedisURL,
		"APP_VERSION":        &c.AppVersion,
		"LOG_LEVEL":          &c.LogLevel,
		"GEO_PROVIDER":       &c.GeoProvider,
		"IPWHOIS_URL":        &c.IPWhoisURL,
		"GEOIP_CITY_DB":      &c.GeoIPCityDB,
		"GEOIP_ASN_DB":       &c.GeoIPASNDB,
		"STUN_SERVER":        &c.STUNServer,
		"TURNSTILE_SITE_KEY": &c.TurnstileSiteKey,
		"TURNSTILE_SECRET":   &c.TurnstileSecret,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LEAK_TIMEOUT_MS":   &c.LeakTimeoutMs,
		"LOOKUP_TIMEOUT_MS": &c.LookupTimeoutMs,
		"CACHE_TTL_MINUTES": &c.CacheTTLMinutes,
	}
	for key, dst := range ints {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		*dst = n
	}
	return nil
}

func (c *Config) validate() error {
	c.GeoProvider = strings.ToLower(c.GeoProvider)
	switch c.GeoProvider {
	case ProviderIPWhois:
	case ProviderGeoIP:
		if c.GeoIPCityDB == "" {
			return fmt.Errorf("GEOIP_CITY_DB is required when GEO_PROVIDER=geoip")
		}
	default:
		return fmt.Errorf("unknown GEO_PROVIDER %q (want ipwhois or geoip)", c.GeoProvider)
	}
	if c.LeakTimeoutMs <= 0 || c.LookupTimeoutMs <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.LeakTimeoutMs > maxLeakTimeoutMs {
		return fmt.Errorf("LEAK_TIMEOUT_MS must not exceed %d", maxLeakTimeoutMs)
	}
	if c.CacheTTLMinutes < 0 {
		return fmt.Errorf("CACHE_TTL_MINUTES must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) LeakTimeout() time.Duration {
	return time.Duration(c.LeakTimeoutMs) * time.Millisecond
}

func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// VerificationEnabled reports whether scans can ask for a Turnstile token.
func (c *Config) VerificationEnabled() bool {
	return c.TurnstileSecret != ""
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
