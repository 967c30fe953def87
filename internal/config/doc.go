// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package config provides centralized configuration management for Marquee.

# Configuration Sources

Configuration is layered with koanf v2, later layers overriding earlier ones:

 1. Built-in defaults (see defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, else the first of DefaultConfigPaths
 3. Environment variables listed in envMappings

Only mapped environment variables are read, so unrelated variables in the
process environment never leak into configuration.

# Configuration Structure

  - ServerConfig: listen address and HTTP timeouts
  - SessionConfig: quota, device caps, liveness timeout and reaper cadence
  - InvitationConfig: invitation TTL, store and webhook delivery
  - StorageConfig: ledger backend (memory, badger or redis)
  - EntitlementConfig: static seed file or catalog HTTP upstream
  - UpstreamConfig: per-call timeout and circuit breaker settings
  - APIConfig: rate limits, CORS and error status choices
  - WebsocketConfig: allowed origins and playback sync throttle
  - SecurityConfig: identity mode, JWT and Casbin settings
  - AuditConfig: audit store, retention and NATS forwarding
  - LoggingConfig: level, format and caller reporting

# Example

	cfg, err := config.Load()
	if err != nil {
	    logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
*/
package config
