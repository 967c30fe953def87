// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/marquee/internal/playback"
)

// frame is a decoded server frame.
type frame struct {
	Type     string  `json:"type"`
	EventID  string  `json:"eventId"`
	Count    int     `json:"count"`
	Position float64 `json:"position"`
	DeviceID string  `json:"deviceId"`
	Message  string  `json:"message"`
}

// setupRoomServer serves /?user=<id> as a connection to event e1.
func setupRoomServer(t *testing.T, hub *Hub, config UpgraderConfig) *httptest.Server {
	t.Helper()
	u := NewUpgrader(hub, config)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = u.Serve(w, r, "e1", r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWebSocket(t *testing.T, server *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func join(t *testing.T, conn *websocket.Conn, user, device string) {
	t.Helper()
	send(t, conn, `{"type":"join","userId":"`+user+`","deviceId":"`+device+`"}`)
	if f := readFrame(t, conn); f.Type != MessageTypePlaybackSync {
		t.Fatalf("first frame after join = %s, want playbackSync", f.Type)
	}
	if f := readFrame(t, conn); f.Type != MessageTypeViewerCount {
		t.Fatalf("second frame after join = %s, want viewerCount", f.Type)
	}
}

func TestClient_WatchTogetherRoundTrip(t *testing.T) {
	tracker := playback.NewTracker()
	hub := NewHub(tracker, nil)
	srv := setupRoomServer(t, hub, UpgraderConfig{})

	a := dialWebSocket(t, srv, "u1")
	join(t, a, "u1", "tv")
	b := dialWebSocket(t, srv, "u2")
	join(t, b, "u2", "phone")

	f := readFrame(t, a)
	if f.Type != MessageTypeViewerCount || f.Count != 2 || f.EventID != "e1" {
		t.Fatalf("first member got %+v, want viewerCount 2 for e1", f)
	}

	send(t, a, `{"type":"playbackSync","position":15,"deviceId":"tv"}`)
	f = readFrame(t, b)
	if f.Type != MessageTypePlaybackSync || f.Position != 15 || f.DeviceID != "tv" {
		t.Errorf("peer got %+v, want playbackSync 15 from tv", f)
	}

	send(t, b, `{"type":"playbackSync","position":10,"deviceId":"phone"}`)
	if got := tracker.Position("e1"); got != 15 {
		t.Errorf("Position() = %v, want 15", got)
	}

	// Neither the sender's own sync nor the ignored regression reaches a,
	// so the next frame it sees is the count after b leaves.
	send(t, b, `{"type":"leave","userId":"u2","deviceId":"phone"}`)
	f = readFrame(t, a)
	if f.Type != MessageTypeViewerCount || f.Count != 1 {
		t.Errorf("after leave got %+v, want viewerCount 1", f)
	}
}

func TestClient_MalformedAndUnjoinedFrames(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := setupRoomServer(t, hub, UpgraderConfig{})
	c := dialWebSocket(t, srv, "u1")

	send(t, c, `not json`)
	if f := readFrame(t, c); f.Type != MessageTypeError {
		t.Errorf("malformed frame reply = %s, want error", f.Type)
	}
	send(t, c, `{"type":"playbackSync","position":3}`)
	if f := readFrame(t, c); f.Type != MessageTypeError || f.Message == "" {
		t.Errorf("sync before join reply = %+v, want error", f)
	}
	send(t, c, `{"type":"join","userId":"someone-else","deviceId":"tv"}`)
	if f := readFrame(t, c); f.Type != MessageTypeError {
		t.Errorf("join as another user reply = %s, want error", f.Type)
	}
	if n := hub.RoomSize("e1"); n != 0 {
		t.Errorf("RoomSize() = %d, want 0", n)
	}
}

func TestClient_SyncRateLimited(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := setupRoomServer(t, hub, UpgraderConfig{SyncLimit: SyncLimit{Rate: rate.Every(time.Hour), Burst: 1}})
	c := dialWebSocket(t, srv, "u1")
	join(t, c, "u1", "tv")

	send(t, c, `{"type":"playbackSync","position":1}`)
	send(t, c, `{"type":"playbackSync","position":2}`)
	f := readFrame(t, c)
	if f.Type != MessageTypeError || !strings.Contains(f.Message, "rate limit") {
		t.Errorf("second sync reply = %+v, want rate limit error", f)
	}
}

func TestClient_DisconnectEmptiesRoom(t *testing.T) {
	tracker := playback.NewTracker()
	hub := NewHub(tracker, nil)
	srv := setupRoomServer(t, hub, UpgraderConfig{})
	c := dialWebSocket(t, srv, "u1")
	join(t, c, "u1", "tv")
	send(t, c, `{"type":"playbackSync","position":9}`)
	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize("e1") > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := hub.RoomSize("e1"); n != 0 {
		t.Fatalf("RoomSize() = %d after disconnect, want 0", n)
	}
	// Wait for removeIfEmpty, which runs just after the member is removed.
	for tracker.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tracker.Len() != 0 {
		t.Error("playback state kept after the last connection closed")
	}
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	u := NewUpgrader(NewHub(nil, nil), UpgraderConfig{AllowedOrigins: []string{"https://watch.example.com"}})
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://watch.example.com", true},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := u.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
