// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package websocket carries the realtime watch-together channel for live events.

Connections are grouped into one room per event. Each room has its own lock,
so joins, leaves and broadcasts for one event never wait on another event.

Architecture:

	        ┌──────────┐
	        │   Hub    │  rooms by eventId
	        └────┬─────┘
	     ┌───────┴────────┐
	┌────┴────┐      ┌────┴────┐
	│ room e1 │      │ room e2 │
	└────┬────┘      └────┬────┘
	 Client ...       Client ...

Each client has two goroutines:
  - readPump: decodes client frames and applies them to the room
  - writePump: drains the send buffer and keeps the connection alive with pings

Frames are flat JSON objects tagged by type. Client frames:

	{"type":"join","userId":"u1","deviceId":"tv"}
	{"type":"leave","userId":"u1","deviceId":"tv"}
	{"type":"playbackSync","position":42.5,"deviceId":"tv"}

Server frames:

	{"type":"viewerCount","eventId":"e1","count":3}
	{"type":"playbackSync","position":42.5,"deviceId":"server"}
	{"type":"error","message":"malformed message: missing position"}

Client frames wrapped in a {"type","data"} envelope are still accepted.

Delivery is best effort. Every send is non-blocking; a connection whose
buffer is full is dropped from its room and closed without slowing the
others down.

The shared playback position only moves forward. A playbackSync that does not
advance it is ignored, and an accepted one is relayed to every other
connection in the room. Incoming playbackSync frames are rate limited per
connection.
*/
package websocket
