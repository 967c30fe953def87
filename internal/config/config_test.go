// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every mapped variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envMappings {
		name := strings.ToUpper(key)
		if old, ok := os.LookupEnv(name); ok {
			t.Setenv(name, old) // restores on cleanup
			os.Unsetenv(name)
		}
	}
	t.Setenv(ConfigPathEnvVar, "")
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaultConfig().Validate() = %v", err)
	}
	if cfg.Session.MaxViewSeconds != 900 {
		t.Errorf("Session.MaxViewSeconds = %d, want 900", cfg.Session.MaxViewSeconds)
	}
	if cfg.Session.Timeout != 60*time.Second {
		t.Errorf("Session.Timeout = %v, want 60s", cfg.Session.Timeout)
	}
	if cfg.Session.ReapInterval != 30*time.Second {
		t.Errorf("Session.ReapInterval = %v, want 30s", cfg.Session.ReapInterval)
	}
	if cfg.Invitation.TTL != 24*time.Hour {
		t.Errorf("Invitation.TTL = %v, want 24h", cfg.Invitation.TTL)
	}
	if cfg.Upstream.Timeout != 3*time.Second {
		t.Errorf("Upstream.Timeout = %v, want 3s", cfg.Upstream.Timeout)
	}
}

func TestLoad_Layering(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9000
session:
  max_view_seconds: 600
  timeout: 90s
api:
  cors_origins:
    - https://watch.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 (env over file)", cfg.Server.Port)
	}
	if cfg.Session.MaxViewSeconds != 600 {
		t.Errorf("Session.MaxViewSeconds = %d, want 600 (file)", cfg.Session.MaxViewSeconds)
	}
	if cfg.Session.Timeout != 90*time.Second {
		t.Errorf("Session.Timeout = %v, want 90s", cfg.Session.Timeout)
	}
	if cfg.Session.DefaultMaxDevices != 1 {
		t.Errorf("Session.DefaultMaxDevices = %d, want 1 (default)", cfg.Session.DefaultMaxDevices)
	}
	if cfg.Storage.LedgerBackend != "redis" {
		t.Errorf("Storage.LedgerBackend = %q, want redis", cfg.Storage.LedgerBackend)
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "https://watch.example.com" {
		t.Errorf("API.CORSOrigins = %v", cfg.API.CORSOrigins)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Websocket.AllowedOrigins) != 2 || cfg.Websocket.AllowedOrigins[0] != want[0] || cfg.Websocket.AllowedOrigins[1] != want[1] {
		t.Errorf("Websocket.AllowedOrigins = %v, want %v", cfg.Websocket.AllowedOrigins, want)
	}
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "marquee.yaml")
	if err := os.WriteFile(path, []byte("session:\n  premium_max_devices: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	if got := findConfigFile(); got != path {
		t.Fatalf("findConfigFile() = %q, want %q", got, path)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.PremiumMaxDevices != 5 {
		t.Errorf("Session.PremiumMaxDevices = %d, want 5", cfg.Session.PremiumMaxDevices)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() with malformed YAML should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero timeout", func(c *Config) { c.Session.Timeout = 0 }, "SESSION_TIMEOUT"},
		{"heartbeat not below timeout", func(c *Config) { c.Session.HeartbeatInterval = c.Session.Timeout }, "HEARTBEAT_INTERVAL"},
		{"unknown ledger backend", func(c *Config) { c.Storage.LedgerBackend = "etcd" }, "LEDGER_BACKEND"},
		{"shared badger ledgers", func(c *Config) {
			c.Storage.LedgerBackend = "badger"
			c.Storage.SharedLedgers = true
		}, "LEDGER_SHARED"},
		{"http source without url", func(c *Config) { c.Entitlement.Source = "http" }, "CATALOG_URL"},
		{"bad catalog scheme", func(c *Config) {
			c.Entitlement.Source = "http"
			c.Entitlement.BaseURL = "ftp://catalog"
		}, "CATALOG_URL"},
		{"jwt without secret", func(c *Config) { c.Security.AuthMode = "jwt" }, "JWT_SECRET"},
		{"unknown auth mode", func(c *Config) { c.Security.AuthMode = "oidc" }, "AUTH_MODE"},
		{"device limit status", func(c *Config) { c.API.DeviceLimitStatus = 500 }, "DEVICE_LIMIT_STATUS"},
		{"wildcard cors in production", func(c *Config) { c.Server.Environment = "production" }, "CORS_ORIGINS"},
		{"duckdb without path", func(c *Config) {
			c.Audit.Store = "duckdb"
			c.Audit.DuckDBPath = ""
		}, "AUDIT_DUCKDB_PATH"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "HTTP_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %s", err, tt.wantErr)
			}
		})
	}

	cfg := defaultConfig()
	cfg.Security.AuthMode = "jwt"
	cfg.Security.JWTSecret = strings.Repeat("s", 32)
	if err := cfg.Validate(); err != nil {
		t.Errorf("jwt with 32-char secret: Validate() = %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"SESSION_TIMEOUT": "session.timeout",
		"REDIS_ADDR":      "storage.redis.addr",
		"nats_url":        "audit.nats.url",
		"PATH":            "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
