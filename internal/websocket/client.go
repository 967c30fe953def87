// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// SyncLimit bounds how often one connection may report its position.
type SyncLimit struct {
	Rate  rate.Limit
	Burst int
}

// DefaultSyncLimit allows 5 playbackSync frames per second with a burst of 10.
func DefaultSyncLimit() SyncLimit {
	return SyncLimit{Rate: 5, Burst: 10}
}

// clientIDCounter orders clients for deterministic broadcast.
var clientIDCounter atomic.Uint64

// Client is a middleman between the websocket connection and its room.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	limiter *rate.Limiter

	// eventID comes from the connection URL and never changes.
	eventID string
	// userID is the authenticated caller; deviceID is set by join.
	userID   string
	deviceID string
	joined   bool

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for an authenticated user watching eventID.
func NewClient(hub *Hub, conn *websocket.Conn, eventID, userID string, limit SyncLimit) *Client {
	if limit.Rate <= 0 {
		limit = DefaultSyncLimit()
	}
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, sendBufferSize),
		limiter: rate.NewLimiter(limit.Rate, limit.Burst),
		eventID: eventID,
		userID:  userID,
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() uint64 {
	return c.id
}

// trySend queues msg without blocking. It reports false when the buffer is
// full. Sending to a closed client is a no-op.
func (c *Client) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send buffer, which makes writePump close the connection.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handle applies one decoded client frame.
func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	switch m := msg.(type) {
	case JoinMessage:
		if m.UserID != "" && m.UserID != c.userID {
			c.trySend(errorMessage("userId does not match the authenticated user"))
			return
		}
		if c.joined {
			return
		}
		c.deviceID = m.DeviceID
		if !c.hub.join(ctx, c) {
			c.closeSend()
			return
		}
		c.joined = true
	case LeaveMessage:
		if c.joined {
			c.joined = false
			c.hub.leave(ctx, c)
		}
	case PlaybackSyncMessage:
		if !c.joined {
			c.trySend(errorMessage("join before syncing playback"))
			return
		}
		if !c.limiter.Allow() {
			c.trySend(errorMessage("playbackSync rate limit exceeded"))
			return
		}
		deviceID := m.DeviceID
		if deviceID == "" {
			deviceID = c.deviceID
		}
		c.hub.syncPlayback(c, m.Position, deviceID)
	}
}

// readPump decodes frames from the connection until it fails.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		if c.joined {
			c.hub.leave(ctx, c)
		}
		metrics.WSConnections.Dec()
		c.closeSend()
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			metrics.WSMessagesReceived.WithLabelValues("malformed").Inc()
			c.trySend(errorMessage(err.Error()))
			continue
		}
		metrics.WSMessagesReceived.WithLabelValues(msg.messageType()).Inc()
		c.handle(ctx, msg)
	}
}

// writePump drains the send buffer to the connection and sends pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The room or the hub closed the channel
				err := c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
					logging.Debug().Err(err).Msg("failed to write close message")
				}
				return
			}
			data, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("type", message.Type).Msg("failed to encode websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client. ctx carries the
// request's logging fields; it is not used for cancellation.
func (c *Client) Start(ctx context.Context) {
	metrics.WSConnections.Inc()
	go c.writePump()
	go c.readPump(context.WithoutCancel(ctx))
}
