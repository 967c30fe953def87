// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/marquee/internal/access"
	"github.com/tomtom215/marquee/internal/api"
	"github.com/tomtom215/marquee/internal/config"
	"github.com/tomtom215/marquee/internal/invitation"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/reaper"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/supervisor"
	"github.com/tomtom215/marquee/internal/supervisor/services"
	"github.com/tomtom215/marquee/internal/viewing"
	"github.com/tomtom215/marquee/internal/websocket"
)

//nolint:gocyclo // Sequential component wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("ledger_backend", cfg.Storage.LedgerBackend).
		Str("entitlement_source", cfg.Entitlement.Source).
		Str("auth_mode", cfg.Security.AuthMode).
		Int64("max_view_seconds", cfg.Session.MaxViewSeconds).
		Msg("Starting Marquee with supervisor tree")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var shutdown closers
	defer func() { shutdown.closeAll() }()
	pool := newBadgerPool(&shutdown)

	// fatal runs the shutdown hooks before exiting, since os.Exit skips defers.
	fatal := func(err error, msg string) {
		shutdown.closeAll()
		logging.Fatal().Err(err).Msg(msg)
	}

	ledgers, err := buildLedgerStore(ctx, cfg.Storage, pool)
	if err != nil {
		fatal(err, "Failed to open ledger store")
	}
	sessions := store.NewMemorySessionStore()

	lookup, catalogGuard, err := buildLookup(cfg)
	if err != nil {
		fatal(err, "Failed to initialize entitlement lookup")
	}

	auditLog, err := buildAudit(ctx, cfg.Audit, &shutdown)
	if err != nil {
		fatal(err, "Failed to initialize audit log")
	}

	invStore, err := buildInvitationStore(cfg.Invitation, pool)
	if err != nil {
		fatal(err, "Failed to open invitation store")
	}
	invitations := invitation.NewService(invitation.Config{TTL: cfg.Invitation.TTL},
		invStore, lookup, sessions, ledgers, buildNotifier(cfg), auditLog)

	viewingSvc := viewing.NewService(viewing.Config{
		MaxViewSeconds:    cfg.Session.MaxViewSeconds,
		DefaultMaxDevices: cfg.Session.DefaultMaxDevices,
		PremiumMaxDevices: cfg.Session.PremiumMaxDevices,
		SessionTimeout:    cfg.Session.Timeout,
		LedgerIdleWindow:  cfg.Session.LedgerIdleWindow,
		LockStripes:       cfg.Session.LockStripes,
		SharedLedgers:     cfg.Storage.SharedLedgers,
	}, viewing.Deps{
		Sessions:    sessions,
		Ledgers:     ledgers,
		Lookup:      lookup,
		Invitations: invitations,
		Audit:       auditLog,
	})

	hub := websocket.NewHub(viewingSvc.Tracker(), viewingSvc)
	viewingSvc.SetBroadcaster(hub)

	authenticator, err := buildAuthenticator(cfg.Security)
	if err != nil {
		fatal(err, "Failed to initialize authentication")
	}
	enforcer, err := buildEnforcer(cfg.Security.Casbin)
	if err != nil {
		fatal(err, "Failed to initialize authorization")
	}

	router := api.NewRouter(routerConfig(cfg.API), api.Deps{
		Sessions:      viewingSvc,
		Invitations:   invitations,
		Access:        access.NewChecker(lookup, invitations, viewingSvc, auditLog),
		Audit:         auditLog,
		Upgrader:      websocket.NewUpgrader(hub, upgraderConfig(cfg.Websocket)),
		Authenticator: authenticator,
		Enforcer:      enforcer,
		HealthChecks:  []api.HealthCheck{ledgerReadiness(ledgers), breakerReadiness(catalogGuard)},
	})

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		fatal(err, "Failed to create supervisor tree")
	}

	tree.AddMaintenanceService(reaper.New(viewingSvc, invitations, cfg.Session.ReapInterval))
	if auditLog != nil {
		tree.AddMaintenanceService(auditLog)
	}
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(
		newHTTPServer(cfg.Server, router.Handler()), cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	logging.Info().Msg("Marquee stopped")
}
