// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/marquee/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestLogger_WritesAndDrainsOnClose(t *testing.T) {
	store := NewMemoryStore(100)
	l := NewLogger(store, DefaultConfig())

	for i := 0; i < 20; i++ {
		l.Record(context.Background(), EventTypeSessionStarted, OutcomeSuccess,
			UserActor("u1", "a@example.com"), "e1", "d1", "", nil)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := store.Len(); got != 20 {
		t.Errorf("stored events = %d, want 20", got)
	}
	events, _ := store.Query(context.Background(), DefaultQueryFilter())
	e := events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("event not stamped: %+v", e)
	}
	if e.Action != "started" {
		t.Errorf("Action = %q, want started", e.Action)
	}
}

func TestLogger_RequestIDFromContext(t *testing.T) {
	store := NewMemoryStore(10)
	l := NewLogger(store, DefaultConfig())
	ctx := logging.ContextWithRequestID(context.Background(), "req-42")

	l.Record(ctx, EventTypeAccessChecked, OutcomeFailure, UserActor("u1", ""), "e1", "", "denied",
		map[string]interface{}{"reason": "denied"})
	_ = l.Close()

	events, _ := store.Query(context.Background(), QueryFilter{RequestID: "req-42"})
	if len(events) != 1 {
		t.Fatalf("events with request id = %d, want 1", len(events))
	}
	if events[0].Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning for failure", events[0].Severity)
	}
	if string(events[0].Metadata) != `{"reason":"denied"}` {
		t.Errorf("Metadata = %s", events[0].Metadata)
	}
}

func TestLogger_DisabledAndSeverityFiltered(t *testing.T) {
	store := NewMemoryStore(10)
	cfg := DefaultConfig()
	cfg.LogLevel = SeverityWarning
	l := NewLogger(store, cfg)

	l.Log(&Event{Type: EventTypeSessionEnded, Severity: SeverityInfo})
	l.Log(&Event{Type: EventTypeSessionDeviceLimit, Severity: SeverityWarning})
	l.SetEnabled(false)
	l.Log(&Event{Type: EventTypeSessionDeviceLimit, Severity: SeverityError})
	_ = l.Close()

	if got := store.Len(); got != 1 {
		t.Errorf("stored events = %d, want 1", got)
	}
	if l.Enabled() {
		t.Error("Enabled() = true after SetEnabled(false)")
	}
}

type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, e *Event) error {
	<-b.release
	return b.MemoryStore.Save(ctx, e)
}

func TestLogger_FullBufferDropsWithoutBlocking(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(100), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	l := NewLogger(store, cfg)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			l.Log(&Event{Type: EventTypeSessionStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log() blocked on a full buffer")
	}

	close(store.release)
	_ = l.Close()
	if got := store.Len(); got >= 10 || got == 0 {
		t.Errorf("stored events = %d, want some dropped", got)
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Save(context.Context, *Event) error { return errors.New("disk full") }

type recordingForwarder struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingForwarder) Forward(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(e.Type))
	return nil
}

func TestLogger_Forwarders(t *testing.T) {
	fwd := &recordingForwarder{}
	l := NewLogger(NewMemoryStore(10), DefaultConfig(), fwd)
	l.Record(context.Background(), EventTypeInvitationCreated, OutcomeSuccess, UserActor("u1", ""), "e1", "", "", nil)
	_ = l.Close()

	if len(fwd.events) != 1 || fwd.events[0] != string(EventTypeInvitationCreated) {
		t.Errorf("forwarded = %v", fwd.events)
	}

	// A failed save is not forwarded.
	fwd2 := &recordingForwarder{}
	l2 := NewLogger(&failingStore{}, DefaultConfig(), fwd2)
	l2.Record(context.Background(), EventTypeInvitationCreated, OutcomeSuccess, UserActor("u1", ""), "e1", "", "", nil)
	_ = l2.Close()
	if len(fwd2.events) != 0 {
		t.Errorf("forwarded after failed save: %v", fwd2.events)
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	l.Log(&Event{})
	l.Record(context.Background(), EventTypeSessionEnded, OutcomeSuccess, SystemActor, "", "", "", nil)
}

func TestLogger_LogAfterCloseIsDropped(t *testing.T) {
	store := NewMemoryStore(10)
	l := NewLogger(store, DefaultConfig())
	_ = l.Close()
	_ = l.Close()
	l.Log(&Event{Type: EventTypeSessionEnded})
	if store.Len() != 0 {
		t.Errorf("event stored after Close")
	}
}

func TestLogger_Cleanup(t *testing.T) {
	store := NewMemoryStore(10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Save(context.Background(), &Event{ID: "old", Timestamp: now.AddDate(0, 0, -40)})
	_ = store.Save(context.Background(), &Event{ID: "new", Timestamp: now.AddDate(0, 0, -1)})

	l := NewLogger(store, DefaultConfig())
	defer l.Close()

	n, err := l.Cleanup(context.Background(), now)
	if err != nil || n != 1 {
		t.Errorf("Cleanup() = %d, %v, want 1, nil", n, err)
	}
	if c, _ := l.Count(context.Background(), QueryFilter{}); c != 1 {
		t.Errorf("Count() = %d, want 1", c)
	}
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []EventType{EventTypeSessionStarted, EventTypeSessionEnded, EventTypeSessionStarted, EventTypeAccessChecked} {
		_ = s.Save(ctx, &Event{ID: string(rune('a' + i)), Type: typ, EventID: "e1", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (bounded)", s.Len())
	}

	tests := []struct {
		name   string
		filter QueryFilter
		want   []string
	}{
		{"all newest first", QueryFilter{}, []string{"d", "c", "b"}},
		{"by type", QueryFilter{Types: []EventType{EventTypeSessionStarted}}, []string{"c"}},
		{"limit and offset", QueryFilter{Limit: 1, Offset: 1}, []string{"c"}},
		{"unknown event", QueryFilter{EventID: "e2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.Query(ctx, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("Query() = %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("Query()[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}
