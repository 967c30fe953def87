// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package viewing

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/invitation"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type broadcast struct {
	eventID  string
	count    int
	position float64
	deviceID string
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	counts    []broadcast
	positions []broadcast
}

func (r *recordingBroadcaster) BroadcastViewerCount(eventID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, broadcast{eventID: eventID, count: count})
}

func (r *recordingBroadcaster) BroadcastPlayback(eventID string, position float64, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, broadcast{eventID: eventID, position: position, deviceID: deviceID})
}

func (r *recordingBroadcaster) lastCount() (broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return broadcast{}, false
	}
	return r.counts[len(r.counts)-1], true
}

type harness struct {
	svc         *Service
	dir         *entitlement.Directory
	sessions    *store.MemorySessionStore
	ledgers     *store.MemoryLedgerStore
	invitations *invitation.Service
	bc          *recordingBroadcaster
	clock       *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:      entitlement.NewDirectory(),
		sessions: store.NewMemorySessionStore(),
		ledgers:  store.NewMemoryLedgerStore(),
		bc:       &recordingBroadcaster{},
		clock:    &testClock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)},
	}
	h.dir.PutEvent(models.Event{ID: "e1", Title: "Finals", CreatorID: "creator"})
	h.dir.PutEvent(models.Event{ID: "big", Title: "Festival", AllowedViewers: 5})
	h.dir.PutUser(models.User{ID: "free", Email: "free@example.com"})
	h.dir.PutUser(models.User{ID: "host", Email: "host@example.com", Name: "Host", IsPremium: true})
	h.dir.PutUser(models.User{ID: "guest", Email: "guest@example.com"})
	h.dir.PutUser(models.User{ID: "guest2", Email: "guest2@example.com"})

	h.invitations = invitation.NewService(invitation.Config{}, invitation.NewMemoryStore(), h.dir,
		h.sessions, h.ledgers, nil, nil).WithClock(h.clock.now)
	h.svc = NewService(DefaultConfig(), Deps{
		Sessions:    h.sessions,
		Ledgers:     h.ledgers,
		Lookup:      h.dir,
		Invitations: h.invitations,
		Broadcaster: h.bc,
	}).WithClock(h.clock.now)
	return h
}

func (h *harness) do(action Action, user, device, event string) (*Snapshot, error) {
	return h.svc.ApplyAction(context.Background(), Request{
		UserID:   user,
		Email:    user + "@example.com",
		EventID:  event,
		DeviceID: device,
		Action:   action,
	})
}

func (h *harness) ledger(t *testing.T, user, event string) *models.ViewLimitLedger {
	t.Helper()
	l, err := h.ledgers.GetLedger(context.Background(), models.LedgerKey{UserID: user, EventID: event})
	if err != nil {
		t.Fatalf("GetLedger(%s, %s) error = %v", user, event, err)
	}
	return l
}
