// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/marquee/internal/logging"
)

// UpgraderConfig controls the HTTP upgrade.
type UpgraderConfig struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	// An empty list accepts any origin.
	AllowedOrigins []string
	SyncLimit      SyncLimit
}

// Upgrader turns HTTP requests into room connections.
type Upgrader struct {
	hub      *Hub
	config   UpgraderConfig
	upgrader websocket.Upgrader
}

// NewUpgrader creates an upgrader for hub.
func NewUpgrader(hub *Hub, config UpgraderConfig) *Upgrader {
	u := &Upgrader{hub: hub, config: config}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      u.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return u
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	if len(u.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range u.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeOrigin(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

func sanitizeOrigin(origin string) string {
	origin = strings.NewReplacer("\n", "", "\r", "").Replace(origin)
	if len(origin) > 200 {
		origin = origin[:200]
	}
	return origin
}

// Serve upgrades the request and attaches the connection to eventID's
// room once the client sends join. The upgrader has already written an
// HTTP error when it returns an error.
func (u *Upgrader) Serve(w http.ResponseWriter, r *http.Request, eventID, userID string) error {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade error")
		return err
	}
	NewClient(u.hub, conn, eventID, userID, u.config.SyncLimit).Start(r.Context())
	return nil
}
