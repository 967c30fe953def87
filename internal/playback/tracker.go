// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package playback keeps the shared playback position of each live event.
//
// The position only moves forward: a viewer who rewinds never drags the
// shared pointer backwards. Viewer counts are not stored here; they are
// derived from the session registry by whoever owns it.
package playback

import (
	"sync"
	"time"
)

// State is the per-event playback state.
type State struct {
	PositionSeconds float64   `json:"playbackPositionSeconds"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
}

// Tracker owns the playback state of every event.
type Tracker struct {
	mu     sync.Mutex
	events map[string]*State
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{events: make(map[string]*State), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
	return t
}

// Ensure creates the event's state if it does not exist.
func (t *Tracker) Ensure(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.events[eventID]; !ok {
		t.events[eventID] = &State{LastUpdatedAt: t.now()}
	}
}

// Report applies a client-reported position. The position is stored only if
// it is strictly greater than the current one. It returns whether it was
// accepted and the position after the update.
func (t *Tracker) Report(eventID string, position float64) (bool, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.events[eventID]
	if !ok {
		st = &State{LastUpdatedAt: t.now()}
		t.events[eventID] = st
	}
	if !(position > st.PositionSeconds) {
		return false, st.PositionSeconds
	}
	st.PositionSeconds = position
	st.LastUpdatedAt = t.now()
	return true, st.PositionSeconds
}

// Position returns the event's current position, zero if unknown.
func (t *Tracker) Position(eventID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.events[eventID]; ok {
		return st.PositionSeconds
	}
	return 0
}

// Get returns a copy of the event's state.
func (t *Tracker) Get(eventID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.events[eventID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Discard drops the event's state. It is recreated on the next Ensure or Report.
func (t *Tracker) Discard(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, eventID)
}

// Len returns the number of tracked events.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
