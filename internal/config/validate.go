// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/marquee/internal/logging"
)

// minJWTSecretLength matches the HS256 key length enforced by the auth package.
const minJWTSecretLength = 32

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateSession,
		c.validateInvitation,
		c.validateStorage,
		c.validateEntitlement,
		c.validateUpstream,
		c.validateAPI,
		c.validateWebsocket,
		c.validateSecurity,
		c.validateAudit,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.Server.Environment {
	case "development", "production":
		return nil
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
}

func (c *Config) validateSession() error {
	s := c.Session
	switch {
	case s.MaxViewSeconds <= 0:
		return fmt.Errorf("MAX_VIEW_SECONDS must be positive, got %d", s.MaxViewSeconds)
	case s.DefaultMaxDevices < 1:
		return fmt.Errorf("DEFAULT_MAX_DEVICES must be at least 1, got %d", s.DefaultMaxDevices)
	case s.PremiumMaxDevices < 1:
		return fmt.Errorf("PREMIUM_MAX_DEVICES must be at least 1, got %d", s.PremiumMaxDevices)
	case s.Timeout <= 0:
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	case s.HeartbeatInterval <= 0 || s.HeartbeatInterval >= s.Timeout:
		return fmt.Errorf("HEARTBEAT_INTERVAL (%v) must be positive and shorter than SESSION_TIMEOUT (%v)", s.HeartbeatInterval, s.Timeout)
	case s.LedgerIdleWindow <= 0:
		return fmt.Errorf("LEDGER_IDLE_WINDOW must be positive")
	case s.ReapInterval <= 0:
		return fmt.Errorf("REAP_INTERVAL must be positive")
	case s.LockStripes < 1:
		return fmt.Errorf("LOCK_STRIPES must be at least 1, got %d", s.LockStripes)
	}
	return nil
}

func (c *Config) validateInvitation() error {
	if c.Invitation.TTL <= 0 {
		return fmt.Errorf("INVITATION_TTL must be positive")
	}
	switch c.Invitation.Store {
	case "memory":
	case "badger":
		if c.Invitation.BadgerPath == "" {
			return fmt.Errorf("INVITATION_BADGER_PATH is required when INVITATION_STORE=badger")
		}
	default:
		return fmt.Errorf("INVITATION_STORE must be memory or badger, got %q", c.Invitation.Store)
	}
	if c.Invitation.WebhookURL != "" {
		return validateHTTPURL("INVITATION_WEBHOOK_URL", c.Invitation.WebhookURL)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.SharedLedgers && c.Storage.LedgerBackend != "redis" {
		return fmt.Errorf("LEDGER_SHARED requires LEDGER_BACKEND=redis")
	}
	switch c.Storage.LedgerBackend {
	case "memory":
		return nil
	case "badger":
		if c.Storage.BadgerPath == "" {
			return fmt.Errorf("LEDGER_BADGER_PATH is required when LEDGER_BACKEND=badger")
		}
		return nil
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LEDGER_BACKEND=redis")
		}
		return nil
	default:
		return fmt.Errorf("LEDGER_BACKEND must be memory, badger or redis, got %q", c.Storage.LedgerBackend)
	}
}

func (c *Config) validateEntitlement() error {
	switch c.Entitlement.Source {
	case "static":
		return nil
	case "http":
		if c.Entitlement.BaseURL == "" {
			return fmt.Errorf("CATALOG_URL is required when ENTITLEMENT_SOURCE=http")
		}
		return validateHTTPURL("CATALOG_URL", c.Entitlement.BaseURL)
	default:
		return fmt.Errorf("ENTITLEMENT_SOURCE must be static or http, got %q", c.Entitlement.Source)
	}
}

func (c *Config) validateUpstream() error {
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if r := c.Upstream.Breaker.FailureRatio; r <= 0 || r > 1 {
		return fmt.Errorf("UPSTREAM_BREAKER_FAILURE_RATIO must be in (0, 1], got %v", r)
	}
	return nil
}

func (c *Config) validateAPI() error {
	switch c.API.DeviceLimitStatus {
	case 403, 429:
	default:
		return fmt.Errorf("DEVICE_LIMIT_STATUS must be 403 or 429, got %d", c.API.DeviceLimitStatus)
	}
	if !c.API.RateLimitDisabled && (c.API.RateLimitRequests < 1 || c.API.RateLimitWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive unless DISABLE_RATE_LIMIT=true")
	}
	if c.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("API_MAX_BODY_BYTES must be positive")
	}
	if c.IsProduction() {
		for _, o := range c.API.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain * in production")
			}
		}
	}
	return nil
}

func (c *Config) validateWebsocket() error {
	if c.Websocket.SyncRate <= 0 || c.Websocket.SyncBurst < 1 {
		return fmt.Errorf("WS_SYNC_RATE and WS_SYNC_BURST must be positive")
	}
	for _, o := range c.Websocket.AllowedOrigins {
		if err := validateHTTPURL("WS_ALLOWED_ORIGINS", o); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch strings.ToLower(c.Security.AuthMode) {
	case "header":
		if c.IsProduction() {
			logging.Warn().Msg("AUTH_MODE=header trusts identity headers; run behind an authenticating gateway")
		}
		return nil
	case "jwt":
		if len(c.Security.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters when AUTH_MODE=jwt", minJWTSecretLength)
		}
		if c.Security.TokenTimeout <= 0 {
			return fmt.Errorf("JWT_TOKEN_TIMEOUT must be positive")
		}
		return nil
	default:
		return fmt.Errorf("AUTH_MODE must be header or jwt, got %q", c.Security.AuthMode)
	}
}

func (c *Config) validateAudit() error {
	a := c.Audit
	if !a.Enabled {
		return nil
	}
	switch a.Store {
	case "memory":
		if a.MemoryMaxEvents < 1 {
			return fmt.Errorf("AUDIT_MEMORY_MAX_EVENTS must be positive")
		}
	case "duckdb":
		if a.DuckDBPath == "" {
			return fmt.Errorf("AUDIT_DUCKDB_PATH is required when AUDIT_STORE=duckdb")
		}
	default:
		return fmt.Errorf("AUDIT_STORE must be memory or duckdb, got %q", a.Store)
	}
	if a.RetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must not be negative")
	}
	if a.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive")
	}
	if a.NATS.Enabled && a.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when AUDIT_NATS_ENABLED=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: URL %q must use http or https", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL %q has no host", name, raw)
	}
	return nil
}
