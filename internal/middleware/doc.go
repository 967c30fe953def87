// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package middleware provides infrastructure HTTP middleware shared by every
API route.

Key Components:

  - RequestID: reuses or generates X-Request-ID and seeds the context logger
  - Metrics: Prometheus request count, latency and in-flight gauge, labelled
    by chi route pattern so path parameters do not explode cardinality
  - Compression: gzip for clients that accept it, skipped for websocket upgrades

Middleware Stack:

The router applies them outermost first:

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Compression)

Authentication and authorization live in the auth and authz packages and
run after these.
*/
package middleware
