// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/marquee/config.yaml",
	"/etc/marquee/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Session: SessionConfig{
			MaxViewSeconds:    900,
			DefaultMaxDevices: 1,
			PremiumMaxDevices: 3,
			Timeout:           60 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			LedgerIdleWindow:  24 * time.Hour,
			ReapInterval:      30 * time.Second,
			LockStripes:       256,
		},
		Invitation: InvitationConfig{
			TTL:        24 * time.Hour,
			Store:      "memory",
			BadgerPath: "/data/invitations",
		},
		Storage: StorageConfig{
			LedgerBackend: "memory",
			BadgerPath:    "/data/ledgers",
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "marquee:",
			},
		},
		Entitlement: EntitlementConfig{
			Source:   "static",
			CacheTTL: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 3 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:  3,
				Interval:     time.Minute,
				OpenTimeout:  30 * time.Second,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		API: APIConfig{
			DeviceLimitStatus: 403,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
			MaxBodyBytes:      1 << 16,
		},
		Websocket: WebsocketConfig{
			SyncRate:  5,
			SyncBurst: 10,
		},
		Security: SecurityConfig{
			AuthMode:     "header",
			TokenTimeout: 24 * time.Hour,
			Casbin: CasbinConfig{
				CacheTTL: 5 * time.Minute,
			},
		},
		Audit: AuditConfig{
			Enabled:         true,
			Store:           "memory",
			DuckDBPath:      "/data/audit.duckdb",
			MemoryMaxEvents: 10000,
			RetentionDays:   30,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      1000,
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "marquee.audit",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns $CONFIG_PATH when it exists, else the first
// existing default path, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when set from the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
	"websocket.allowed_origins",
}

// processSliceFields converts comma-separated strings to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		trimmed := make([]string, 0)
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to config paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Sessions
	"max_view_seconds":    "session.max_view_seconds",
	"default_max_devices": "session.default_max_devices",
	"premium_max_devices": "session.premium_max_devices",
	"session_timeout":     "session.timeout",
	"heartbeat_interval":  "session.heartbeat_interval",
	"ledger_idle_window":  "session.ledger_idle_window",
	"reap_interval":       "session.reap_interval",
	"lock_stripes":        "session.lock_stripes",

	// Invitations
	"invitation_ttl":            "invitation.ttl",
	"invitation_store":          "invitation.store",
	"invitation_badger_path":    "invitation.badger_path",
	"invitation_webhook_url":    "invitation.webhook_url",
	"invitation_webhook_secret": "invitation.webhook_secret",

	// Storage
	"ledger_backend":     "storage.ledger_backend",
	"ledger_badger_path": "storage.badger_path",
	"redis_addr":         "storage.redis.addr",
	"redis_password":     "storage.redis.password",
	"redis_db":           "storage.redis.db",
	"redis_key_prefix":   "storage.redis.key_prefix",
	"ledger_shared":      "storage.shared_ledgers",

	// Entitlements
	"entitlement_source":    "entitlement.source",
	"entitlement_seed_path": "entitlement.seed_path",
	"catalog_url":           "entitlement.base_url",
	"catalog_token":         "entitlement.token",
	"entitlement_cache_ttl": "entitlement.cache_ttl",

	// Upstream
	"upstream_timeout":               "upstream.timeout",
	"upstream_breaker_max_requests":  "upstream.breaker.max_requests",
	"upstream_breaker_interval":      "upstream.breaker.interval",
	"upstream_breaker_open_timeout":  "upstream.breaker.open_timeout",
	"upstream_breaker_min_requests":  "upstream.breaker.min_requests",
	"upstream_breaker_failure_ratio": "upstream.breaker.failure_ratio",

	// API
	"device_limit_status": "api.device_limit_status",
	"rate_limit_requests": "api.rate_limit_requests",
	"rate_limit_window":   "api.rate_limit_window",
	"disable_rate_limit":  "api.rate_limit_disabled",
	"cors_origins":        "api.cors_origins",
	"api_max_body_bytes":  "api.max_body_bytes",

	// Websocket
	"ws_allowed_origins": "websocket.allowed_origins",
	"ws_sync_rate":       "websocket.sync_rate",
	"ws_sync_burst":      "websocket.sync_burst",

	// Security
	"auth_mode":          "security.auth_mode",
	"jwt_secret":         "security.jwt_secret",
	"jwt_issuer":         "security.jwt_issuer",
	"jwt_token_timeout":  "security.token_timeout",
	"casbin_model_path":  "security.casbin.model_path",
	"casbin_policy_path": "security.casbin.policy_path",
	"casbin_cache_ttl":   "security.casbin.cache_ttl",

	// Audit
	"audit_enabled":           "audit.enabled",
	"audit_store":             "audit.store",
	"audit_duckdb_path":       "audit.duckdb_path",
	"audit_memory_max_events": "audit.memory_max_events",
	"audit_retention_days":    "audit.retention_days",
	"audit_cleanup_interval":  "audit.cleanup_interval",
	"audit_buffer_size":       "audit.buffer_size",
	"audit_log_to_stdout":     "audit.log_to_stdout",
	"audit_nats_enabled":      "audit.nats.enabled",
	"nats_url":                "audit.nats.url",
	"audit_nats_subject":      "audit.nats.subject_prefix",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its config path.
// Unmapped names return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
