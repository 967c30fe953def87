// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"

	"github.com/tomtom215/marquee/internal/websocket"
)

// WebSocketHubService supervises the watch-together hub. Rooms live only
// while the service runs: on cancellation every connection is closed and
// later joins are refused, so a restarted process starts with no rooms.
type WebSocketHubService struct {
	hub *websocket.Hub
}

// NewWebSocketHubService wraps hub.
func NewWebSocketHubService(hub *websocket.Hub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub}
}

// Serve implements suture.Service.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture logging.
func (w *WebSocketHubService) String() string {
	return "websocket-hub"
}
