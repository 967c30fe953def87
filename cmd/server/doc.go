// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package main is the entry point for the Marquee server.

Marquee meters how long each viewer watches a live event, caps concurrent
devices per (user, event), lets premium viewers invite guests onto their own
allowance, and keeps everyone in a room at the same playback position over
websockets.

# Application Architecture

	RootSupervisor ("marquee")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   ├── Reaper (expired sessions, idle ledgers, stale invitations)
	│   └── Audit retention (if AUDIT_ENABLED)
	├── MessagingSupervisor ("messaging-layer")
	│   └── WebSocket Hub
	└── APISupervisor ("api-layer")
	    └── HTTP Server (chi)

Component initialization order:

 1. Configuration: koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog, bridged to slog for suture events
 3. Stores: ledgers (memory, Badger or Redis), invitations (memory or Badger)
 4. Entitlements: static seed directory or the catalog HTTP API, behind a
    circuit breaker
 5. Audit: memory or DuckDB store, optional NATS forwarding
 6. Viewing service, websocket hub, access checker
 7. Authentication (gateway headers or JWT) and Casbin authorization
 8. Supervisor tree

# Configuration

Environment variables override config.yaml, which overrides built-in
defaults. Common settings:

	HTTP_PORT=8080
	MAX_VIEW_SECONDS=900
	SESSION_TIMEOUT=60s
	LEDGER_BACKEND=redis REDIS_ADDR=redis:6379 LEDGER_SHARED=true
	ENTITLEMENT_SOURCE=http CATALOG_URL=https://catalog.internal
	AUTH_MODE=jwt JWT_SECRET=$(openssl rand -base64 32)
	AUDIT_STORE=duckdb AUDIT_NATS_ENABLED=true NATS_URL=nats://nats:4222

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains for
HTTP_SHUTDOWN_TIMEOUT, the hub closes every room, then the audit buffer is
flushed and stores are closed.
*/
package main
