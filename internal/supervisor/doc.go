// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package supervisor runs Marquee's long-lived services under a suture v4
supervisor tree.

# Tree

	RootSupervisor ("marquee")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   ├── reaper.Reaper ("reaper")
	│   └── audit.Logger ("audit-retention", if AUDIT_ENABLED)
	├── MessagingSupervisor ("messaging-layer")
	│   └── services.WebSocketHubService
	└── APISupervisor ("api-layer")
	    └── services.HTTPServerService

Each layer counts failures independently, so a reaper crash loop backs
off without touching the hub or the HTTP server.

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning nil stops the service for good; returning an error restarts it.
Services must return promptly once ctx is canceled.

Supervisor events (starts, failures, backoff) are logged through
sutureslog using the slog bridge from internal/logging.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logging.Warn().Str("service", svc.Name).Msg("Service did not stop")
	}
*/
package supervisor
