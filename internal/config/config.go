// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Session     SessionConfig     `koanf:"session"`
	Invitation  InvitationConfig  `koanf:"invitation"`
	Storage     StorageConfig     `koanf:"storage"`
	Entitlement EntitlementConfig `koanf:"entitlement"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	API         APIConfig         `koanf:"api"`
	Websocket   WebsocketConfig   `koanf:"websocket"`
	Security    SecurityConfig    `koanf:"security"`
	Audit       AuditConfig       `koanf:"audit"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Environment is development or production. Production enables stricter checks.
	Environment string `koanf:"environment"`
}

// SessionConfig holds viewing session limits.
type SessionConfig struct {
	// MaxViewSeconds is the free viewing allowance per (user, event).
	MaxViewSeconds int64 `koanf:"max_view_seconds"`
	// DefaultMaxDevices caps concurrent devices for non-premium users.
	DefaultMaxDevices int `koanf:"default_max_devices"`
	// PremiumMaxDevices is the floor for premium users; the event's
	// allowedViewers applies when larger.
	PremiumMaxDevices int `koanf:"premium_max_devices"`
	// Timeout is how long a session may go without a heartbeat.
	Timeout time.Duration `koanf:"timeout"`
	// HeartbeatInterval is the cadence advertised to clients.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// LedgerIdleWindow is how long an unused ledger is kept.
	LedgerIdleWindow time.Duration `koanf:"ledger_idle_window"`
	// ReapInterval is how often the reaper sweeps.
	ReapInterval time.Duration `koanf:"reap_interval"`
	LockStripes  int           `koanf:"lock_stripes"`
}

// InvitationConfig holds invitation settings.
type InvitationConfig struct {
	TTL time.Duration `koanf:"ttl"`
	// Store is memory or badger.
	Store      string `koanf:"store"`
	BadgerPath string `koanf:"badger_path"`
	// WebhookURL, when set, receives every new invitation. Otherwise
	// invitations are written to the log.
	WebhookURL    string `koanf:"webhook_url"`
	WebhookSecret string `koanf:"webhook_secret"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// LedgerBackend is memory, badger or redis.
	LedgerBackend string      `koanf:"ledger_backend"`
	BadgerPath    string      `koanf:"badger_path"`
	Redis         RedisConfig `koanf:"redis"`
	// SharedLedgers marks a ledger store used by several instances. Each
	// instance only sees its own sessions, so device counts are then not
	// reconciled against them.
	SharedLedgers bool `koanf:"shared_ledgers"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// EntitlementConfig selects where events, users and tickets come from.
type EntitlementConfig struct {
	// Source is static (SeedPath) or http (BaseURL).
	Source   string        `koanf:"source"`
	SeedPath string        `koanf:"seed_path"`
	BaseURL  string        `koanf:"base_url"`
	Token    string        `koanf:"token"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// UpstreamConfig applies to every outbound call.
type UpstreamConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig mirrors upstream.BreakerConfig.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	OpenTimeout  time.Duration `koanf:"open_timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// APIConfig holds HTTP API behaviour.
type APIConfig struct {
	// DeviceLimitStatus is the HTTP status for DeviceLimitExceeded: 403 or 429.
	DeviceLimitStatus int `koanf:"device_limit_status"`
	// RateLimitRequests per RateLimitWindow per client IP on mutating routes.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
}

// WebsocketConfig holds realtime channel settings.
type WebsocketConfig struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
	SyncRate       float64  `koanf:"sync_rate"`
	SyncBurst      int      `koanf:"sync_burst"`
}

// SecurityConfig holds identity and authorization settings.
type SecurityConfig struct {
	// AuthMode is header (trusted gateway) or jwt.
	AuthMode     string        `koanf:"auth_mode"`
	JWTSecret    string        `koanf:"jwt_secret"`
	JWTIssuer    string        `koanf:"jwt_issuer"`
	TokenTimeout time.Duration `koanf:"token_timeout"`
	Casbin       CasbinConfig  `koanf:"casbin"`
}

// CasbinConfig holds Casbin authorization settings.
type CasbinConfig struct {
	ModelPath  string        `koanf:"model_path"`
	PolicyPath string        `koanf:"policy_path"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
	// Store is memory or duckdb.
	Store           string        `koanf:"store"`
	DuckDBPath      string        `koanf:"duckdb_path"`
	MemoryMaxEvents int           `koanf:"memory_max_events"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	BufferSize      int           `koanf:"buffer_size"`
	LogToStdout     bool          `koanf:"log_to_stdout"`
	NATS            NATSConfig    `koanf:"nats"`
}

// NATSConfig holds the optional audit forwarding target.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
