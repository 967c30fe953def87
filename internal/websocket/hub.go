// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/playback"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// ViewerCounter reports the number of distinct viewers with a live session.
type ViewerCounter interface {
	ViewerCount(ctx context.Context, eventID string) (int, error)
}

// room holds the connections watching one event.
type room struct {
	eventID string
	mu      sync.Mutex
	clients map[*Client]bool
	// closed is set when the room is removed from the hub; a joiner that
	// raced the removal must look the room up again.
	closed bool
}

// Hub maintains per-event rooms and broadcasts to them.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	tracker  *playback.Tracker
	counter  ViewerCounter
	stopped  bool
	stopOnce sync.Once
}

// NewHub creates a hub. tracker holds the shared playback positions.
// counter may be nil, in which case viewer counts are the number of
// distinct users connected to the room.
func NewHub(tracker *playback.Tracker, counter ViewerCounter) *Hub {
	if tracker == nil {
		tracker = playback.NewTracker()
	}
	return &Hub{
		rooms:   make(map[string]*room),
		tracker: tracker,
		counter: counter,
	}
}

// SetViewerCounter replaces the viewer counter.
func (h *Hub) SetViewerCounter(counter ViewerCounter) {
	h.mu.Lock()
	h.counter = counter
	h.mu.Unlock()
}

// RunWithContext blocks until ctx is canceled, then closes every
// connection. It implements the suture.Service contract through
// services.WebSocketHubService.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

// logGracefulShutdown closes all clients and logs the shutdown without an
// error field; cancellation is the expected path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients closes every connection in a stable order and refuses
// later joins.
func (h *Hub) closeAllClients() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.stopped = true

		ids := make([]string, 0, len(h.rooms))
		for id := range h.rooms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := h.rooms[id]
			r.mu.Lock()
			for _, c := range sortedClients(r.clients) {
				c.closeSend()
			}
			r.clients = map[*Client]bool{}
			r.closed = true
			r.mu.Unlock()
			delete(h.rooms, id)
		}
		metrics.WSRooms.Set(0)
	})
}

// sortedClients orders clients by ID for deterministic delivery.
func sortedClients(set map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// join adds c to its event's room, pushes the current position to c and
// the viewer count to everyone in the room.
func (h *Hub) join(ctx context.Context, c *Client) bool {
	for {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return false
		}
		r, ok := h.rooms[c.eventID]
		if !ok {
			r = &room{eventID: c.eventID, clients: make(map[*Client]bool)}
			h.rooms[c.eventID] = r
			metrics.WSRooms.Set(float64(len(h.rooms)))
		}
		h.mu.Unlock()

		// The count is read before taking the room lock; counting may hit the
		// session store.
		count, countOK := h.storedViewerCount(ctx, c.eventID)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		r.clients[c] = true
		if !countOK {
			count = distinctUsers(r.clients)
		}
		c.trySend(playbackMessage(h.tracker.Position(c.eventID), "server"))
		h.broadcastLocked(r, viewerCountMessage(c.eventID, count), nil)
		r.mu.Unlock()

		logging.Debug().Str("event_id", c.eventID).Str("user_id", c.userID).
			Str("device_id", c.deviceID).Msg("websocket client joined")
		return true
	}
}

// leave removes c from its room. When the room empties it is removed and
// the event's playback state is discarded.
func (h *Hub) leave(ctx context.Context, c *Client) {
	h.mu.RLock()
	r, ok := h.rooms[c.eventID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if !r.clients[c] {
		// Already dropped as a slow client; the drop may have emptied the room.
		empty := len(r.clients) == 0
		r.mu.Unlock()
		if empty {
			h.removeIfEmpty(r)
		}
		return
	}
	delete(r.clients, c)
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		h.removeIfEmpty(r)
		return
	}
	count, ok := h.storedViewerCount(ctx, c.eventID)
	r.mu.Lock()
	if !ok {
		count = distinctUsers(r.clients)
	}
	h.broadcastLocked(r, viewerCountMessage(c.eventID, count), nil)
	r.mu.Unlock()
}

func (h *Hub) removeIfEmpty(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.clients) > 0 {
		return
	}
	r.closed = true
	if h.rooms[r.eventID] == r {
		delete(h.rooms, r.eventID)
	}
	h.tracker.Discard(r.eventID)
	metrics.WSRooms.Set(float64(len(h.rooms)))
	logging.Debug().Str("event_id", r.eventID).Msg("websocket room closed")
}

// syncPlayback applies a client-reported position and relays an accepted
// one to every other connection in the room.
func (h *Hub) syncPlayback(c *Client, position float64, deviceID string) {
	h.mu.RLock()
	r, ok := h.rooms[c.eventID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clients[c] {
		return
	}
	accepted, current := h.tracker.Report(c.eventID, position)
	if !accepted {
		return
	}
	h.broadcastLocked(r, playbackMessage(current, deviceID), c)
}

// broadcastLocked sends msg to every client in r except skip. Clients whose
// buffer is full are dropped. The caller holds r.mu.
func (h *Hub) broadcastLocked(r *room, msg Message, skip *Client) {
	var dropped []*Client
	for _, c := range sortedClients(r.clients) {
		if c == skip {
			continue
		}
		if !c.trySend(msg) {
			dropped = append(dropped, c)
		}
	}
	metrics.WSMessagesSent.WithLabelValues(msg.Type).Inc()
	for _, c := range dropped {
		delete(r.clients, c)
		c.closeSend()
		metrics.WSDroppedClients.Inc()
		logging.Warn().Str("event_id", r.eventID).Uint64("client_id", c.id).
			Msg("websocket client too slow, dropping")
	}
}

func (h *Hub) storedViewerCount(ctx context.Context, eventID string) (int, bool) {
	h.mu.RLock()
	counter := h.counter
	h.mu.RUnlock()
	if counter == nil {
		return 0, false
	}
	n, err := counter.ViewerCount(ctx, eventID)
	if err != nil {
		logging.Warn().Err(err).Str("event_id", eventID).Msg("failed to count viewers")
		return 0, false
	}
	return n, true
}

func distinctUsers(set map[*Client]bool) int {
	seen := make(map[string]struct{}, len(set))
	for c := range set {
		seen[c.userID] = struct{}{}
	}
	return len(seen)
}

func (h *Hub) broadcast(eventID string, msg Message) {
	h.mu.RLock()
	r, ok := h.rooms[eventID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.Lock()
	h.broadcastLocked(r, msg, nil)
	r.mu.Unlock()
}

// BroadcastViewerCount sends the event's viewer count to its room.
func (h *Hub) BroadcastViewerCount(eventID string, count int) {
	h.broadcast(eventID, viewerCountMessage(eventID, count))
}

// BroadcastPlayback sends an already accepted position to the whole room.
func (h *Hub) BroadcastPlayback(eventID string, position float64, deviceID string) {
	h.broadcast(eventID, playbackMessage(position, deviceID))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, r := range h.rooms {
		r.mu.Lock()
		n += len(r.clients)
		r.mu.Unlock()
	}
	return n
}

// RoomSize returns the number of connections watching eventID.
func (h *Hub) RoomSize(eventID string) int {
	h.mu.RLock()
	r, ok := h.rooms[eventID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
