// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package services adapts Marquee components to the suture.Service model.

HTTPServerService binds the API listener inside Serve, so a taken port is
a supervised failure with backoff, and drains requests on cancellation for
a bounded time. WebSocketHubService runs the watch-together hub; stopping
it closes every event room.

Components that already implement Serve and String (reaper.Reaper,
audit.Logger) are added to the tree directly.
*/
package services
