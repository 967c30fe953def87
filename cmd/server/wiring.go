// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/marquee/internal/api"
	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/authz"
	"github.com/tomtom215/marquee/internal/config"
	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/invitation"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/upstream"
	"github.com/tomtom215/marquee/internal/websocket"
)

// closers runs shutdown hooks in reverse registration order.
type closers []func() error

func (c *closers) add(name string, fn func() error) {
	*c = append(*c, func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	})
}

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logging.Error().Err(err).Msg("Shutdown hook failed")
		}
	}
}

// badgerPool opens each Badger directory once so the ledger and invitation
// stores can share a database.
type badgerPool struct {
	dbs     map[string]*badger.DB
	closers *closers
}

func newBadgerPool(c *closers) *badgerPool {
	return &badgerPool{dbs: make(map[string]*badger.DB), closers: c}
}

func (p *badgerPool) open(dir string) (*badger.DB, error) {
	if db, ok := p.dbs[dir]; ok {
		return db, nil
	}
	db, err := store.OpenBadger(dir)
	if err != nil {
		return nil, err
	}
	p.dbs[dir] = db
	p.closers.add("badger "+dir, db.Close)
	return db, nil
}

func guardFor(name string, cfg config.UpstreamConfig) *upstream.Guard {
	return upstream.NewGuard(name, cfg.Timeout, upstream.BreakerConfig{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		OpenTimeout:  cfg.Breaker.OpenTimeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	})
}

func buildLedgerStore(ctx context.Context, cfg config.StorageConfig, pool *badgerPool) (store.LedgerStore, error) {
	switch cfg.LedgerBackend {
	case "badger":
		db, err := pool.open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return store.NewBadgerLedgerStore(db), nil
	case "redis":
		s, err := store.NewRedisLedgerStore(ctx, store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		pool.closers.add("redis ledger store", s.Close)
		return s, nil
	default:
		return store.NewMemoryLedgerStore(), nil
	}
}

func buildLookup(cfg *config.Config) (entitlement.Lookup, *upstream.Guard, error) {
	guard := guardFor("catalog", cfg.Upstream)
	if cfg.Entitlement.Source == "http" {
		client := entitlement.NewHTTPClient(cfg.Entitlement.BaseURL, cfg.Entitlement.Token, nil)
		return entitlement.NewGuarded(client, guard, cfg.Entitlement.CacheTTL), guard, nil
	}

	dir := entitlement.NewDirectory()
	if cfg.Entitlement.SeedPath != "" {
		var err error
		if dir, err = entitlement.LoadDirectory(cfg.Entitlement.SeedPath); err != nil {
			return nil, nil, err
		}
	}
	// The directory is local, so no cache; the guard still bounds latency.
	return entitlement.NewGuarded(dir, guard, 0), guard, nil
}

func buildInvitationStore(cfg config.InvitationConfig, pool *badgerPool) (invitation.Store, error) {
	if cfg.Store != "badger" {
		return invitation.NewMemoryStore(), nil
	}
	db, err := pool.open(cfg.BadgerPath)
	if err != nil {
		return nil, err
	}
	return invitation.NewBadgerStore(db), nil
}

func buildNotifier(cfg *config.Config) invitation.Notifier {
	if cfg.Invitation.WebhookURL == "" {
		return invitation.LogNotifier{}
	}
	return invitation.NewWebhookNotifier(cfg.Invitation.WebhookURL, cfg.Invitation.WebhookSecret,
		guardFor("invitation-webhook", cfg.Upstream), nil)
}

func buildAudit(ctx context.Context, cfg config.AuditConfig, c *closers) (*audit.Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var st audit.Store
	switch cfg.Store {
	case "duckdb":
		db, err := audit.OpenDuckDB(ctx, cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		c.add("audit duckdb", db.Close)
		st = db
	default:
		st = audit.NewMemoryStore(cfg.MemoryMaxEvents)
	}

	var forwarders []audit.Forwarder
	if cfg.NATS.Enabled {
		fwd, err := audit.NewNATSForwarder(audit.NATSConfig{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			return nil, err
		}
		c.add("audit nats forwarder", fwd.Close)
		forwarders = append(forwarders, fwd)
	}

	ac := audit.DefaultConfig()
	ac.Enabled = true
	ac.RetentionDays = cfg.RetentionDays
	ac.CleanupInterval = cfg.CleanupInterval
	ac.BufferSize = cfg.BufferSize
	ac.LogToStdout = cfg.LogToStdout

	logger := audit.NewLogger(st, ac, forwarders...)
	// Registered after the store and forwarder so it drains into them first.
	c.add("audit logger", logger.Close)
	return logger, nil
}

func buildAuthenticator(cfg config.SecurityConfig) (auth.Authenticator, error) {
	mode, err := auth.ParseAuthMode(cfg.AuthMode)
	if err != nil {
		return nil, err
	}
	if mode != auth.AuthModeJWT {
		return auth.HeaderAuthenticator{}, nil
	}
	manager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTimeout, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTAuthenticator(manager), nil
}

func buildEnforcer(cfg config.CasbinConfig) (*authz.Enforcer, error) {
	ec := authz.DefaultEnforcerConfig()
	ec.ModelPath = cfg.ModelPath
	ec.PolicyPath = cfg.PolicyPath
	if cfg.CacheTTL > 0 {
		ec.CacheTTL = cfg.CacheTTL
	}
	return authz.NewEnforcer(ec)
}

func upgraderConfig(cfg config.WebsocketConfig) websocket.UpgraderConfig {
	limit := websocket.DefaultSyncLimit()
	if cfg.SyncRate > 0 {
		limit.Rate = rate.Limit(cfg.SyncRate)
	}
	if cfg.SyncBurst > 0 {
		limit.Burst = cfg.SyncBurst
	}
	return websocket.UpgraderConfig{AllowedOrigins: cfg.AllowedOrigins, SyncLimit: limit}
}

func routerConfig(cfg config.APIConfig) api.Config {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.CORSOrigins
	mw.RateLimitRequests = cfg.RateLimitRequests
	mw.RateLimitWindow = cfg.RateLimitWindow
	mw.RateLimitDisabled = cfg.RateLimitDisabled
	return api.Config{
		DeviceLimitStatus: cfg.DeviceLimitStatus,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		Middleware:        mw,
	}
}

// ledgerReadiness is a readiness check that reads a key that never exists.
func ledgerReadiness(ledgers store.LedgerStore) api.HealthCheck {
	key := models.LedgerKey{UserID: "__health__", EventID: "__health__"}
	return api.HealthCheck{Name: "ledger_store", Check: func(ctx context.Context) error {
		_, err := ledgers.GetLedger(ctx, key)
		if err == nil || errors.Is(err, store.ErrLedgerNotFound) {
			return nil
		}
		return err
	}}
}

// breakerReadiness fails readiness while the upstream breaker is open.
func breakerReadiness(guard *upstream.Guard) api.HealthCheck {
	return api.HealthCheck{Name: guard.Name(), Check: func(context.Context) error {
		if state := guard.State(); state == "open" {
			return fmt.Errorf("circuit breaker %s", state)
		}
		return nil
	}}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
