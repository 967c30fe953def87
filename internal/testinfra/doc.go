// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package testinfra starts Docker containers for integration tests using
// testcontainers-go.
//
//	func TestRedisLedgerStore(t *testing.T) {
//	    addr := testinfra.StartRedis(t)
//	    s, err := store.NewRedisLedgerStore(ctx, store.RedisConfig{Addr: addr})
//	    // ...
//	}
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/store/...
//
// Tests skip when no Docker daemon is reachable.
package testinfra
