// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/marquee/internal/playback"
	"github.com/tomtom215/marquee/internal/websocket"
)

var _ suture.Service = (*WebSocketHubService)(nil)

type serverFrame struct {
	Type     string  `json:"type"`
	EventID  string  `json:"eventId"`
	Count    int     `json:"count"`
	Position float64 `json:"position"`
	DeviceID string  `json:"deviceId"`
}

// roomServer serves /<eventID>?user=<id> as a room connection.
func roomServer(t *testing.T, hub *websocket.Hub) *httptest.Server {
	t.Helper()
	u := websocket.NewUpgrader(hub, websocket.UpgraderConfig{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = u.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/"), r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, eventID, user string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + eventID + "?user=" + user
	conn, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *gorilla.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func nextFrame(t *testing.T, conn *gorilla.Conn) serverFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

// joinRoom sends a join and consumes the position and count frames it
// triggers, returning the position.
func joinRoom(t *testing.T, conn *gorilla.Conn, user, device string) float64 {
	t.Helper()
	sendFrame(t, conn, `{"type":"join","userId":"`+user+`","deviceId":"`+device+`"}`)
	sync := nextFrame(t, conn)
	if sync.Type != websocket.MessageTypePlaybackSync {
		t.Fatalf("first frame after join = %s, want playbackSync", sync.Type)
	}
	if f := nextFrame(t, conn); f.Type != websocket.MessageTypeViewerCount {
		t.Fatalf("second frame after join = %s, want viewerCount", f.Type)
	}
	return sync.Position
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectClosed(t *testing.T, conn *gorilla.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		// Frames queued before the close may still arrive.
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

func TestWebSocketHubService_RoomsUnderSupervisor(t *testing.T) {
	tracker := playback.NewTracker()
	hub := websocket.NewHub(tracker, nil)
	srv := roomServer(t, hub)

	sup := suture.New("messaging-layer", suture.Spec{Timeout: time.Second})
	sup.Add(NewWebSocketHubService(hub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	tv := dialRoom(t, srv, "e1", "u1")
	joinRoom(t, tv, "u1", "tv")
	phone := dialRoom(t, srv, "e1", "u2")
	joinRoom(t, phone, "u2", "phone")
	if f := nextFrame(t, tv); f.Type != websocket.MessageTypeViewerCount || f.Count != 2 {
		t.Fatalf("tv got %+v, want viewerCount 2", f)
	}
	other := dialRoom(t, srv, "e2", "u3")
	joinRoom(t, other, "u3", "laptop")

	sendFrame(t, tv, `{"type":"playbackSync","position":42,"deviceId":"tv"}`)
	if f := nextFrame(t, phone); f.Type != websocket.MessageTypePlaybackSync || f.Position != 42 {
		t.Errorf("phone got %+v, want playbackSync 42", f)
	}
	if got := tracker.Position("e1"); got != 42 {
		t.Errorf("tracker e1 = %v, want 42", got)
	}
	if got := tracker.Position("e2"); got != 0 {
		t.Errorf("tracker e2 = %v, want 0", got)
	}

	// A late joiner is brought to the room's position.
	late := dialRoom(t, srv, "e1", "u4")
	if pos := joinRoom(t, late, "u4", "tablet"); pos != 42 {
		t.Errorf("late joiner position = %v, want 42", pos)
	}
	if n := hub.RoomSize("e1"); n != 3 {
		t.Errorf("RoomSize(e1) = %d, want 3", n)
	}
	if n := hub.GetClientCount(); n != 4 {
		t.Errorf("GetClientCount() = %d, want 4", n)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	for _, conn := range []*gorilla.Conn{tv, phone, other, late} {
		expectClosed(t, conn)
	}
	if n := hub.GetClientCount(); n != 0 {
		t.Errorf("GetClientCount() after shutdown = %d, want 0", n)
	}
	if n := hub.RoomSize("e1"); n != 0 {
		t.Errorf("RoomSize(e1) after shutdown = %d, want 0", n)
	}

	// The stopped hub refuses joins and closes the connection.
	refused := dialRoom(t, srv, "e1", "u5")
	sendFrame(t, refused, `{"type":"join","userId":"u5","deviceId":"tv"}`)
	expectClosed(t, refused)
	if n := hub.RoomSize("e1"); n != 0 {
		t.Errorf("RoomSize(e1) after refused join = %d, want 0", n)
	}
}

func TestWebSocketHubService_LastLeaveDiscardsPlayback(t *testing.T) {
	tracker := playback.NewTracker()
	hub := websocket.NewHub(tracker, nil)
	srv := roomServer(t, hub)

	svc := NewWebSocketHubService(hub)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	conn := dialRoom(t, srv, "e1", "u1")
	joinRoom(t, conn, "u1", "tv")
	sendFrame(t, conn, `{"type":"playbackSync","position":7,"deviceId":"tv"}`)
	waitFor(t, "position 7", func() bool { return tracker.Position("e1") == 7 })

	sendFrame(t, conn, `{"type":"leave","userId":"u1","deviceId":"tv"}`)
	waitFor(t, "room removal", func() bool { return hub.RoomSize("e1") == 0 })
	if _, ok := tracker.Get("e1"); ok {
		t.Error("playback state kept after the room emptied")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestWebSocketHubService_String(t *testing.T) {
	svc := NewWebSocketHubService(websocket.NewHub(nil, nil))
	if got := svc.String(); got != "websocket-hub" {
		t.Errorf("String() = %q, want websocket-hub", got)
	}
}
