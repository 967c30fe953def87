// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package api exposes the viewing-session service over HTTP using the Chi router.

Routes (all JSON):

	POST /api/v1/session                                  start, heartbeat or end a session
	GET  /api/v1/live-stream/{eventId}/check-access       access decision (?invitation=<token>)
	POST /api/v1/live-stream/invite                       create a watch-together invitation
	POST /api/v1/live-stream/invite/accept                accept an invitation
	GET  /api/v1/live-stream/{eventId}/state              viewer count and playback position
	GET  /api/v1/live-stream/{eventId}/ws                 realtime websocket channel
	GET  /api/v1/admin/sessions?eventId=                  live sessions (admin)
	GET  /api/v1/admin/ledgers                            view-limit ledgers (admin)
	GET  /api/v1/admin/audit                              audit events (admin)
	GET  /api/v1/health/live, /api/v1/health/ready        health checks (unauthenticated)
	GET  /metrics                                         Prometheus (unauthenticated)

Errors use a single envelope:

	{"error": "Too many devices", "code": "DEVICE_LIMIT_EXCEEDED",
	 "message": "too many devices: 3 of 3 in use", "request_id": "..."}

The status and code come from the models error taxonomy; see statusFor.
*/
package api
