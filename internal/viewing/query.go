// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package viewing

import (
	"context"
	"time"

	"github.com/tomtom215/marquee/internal/models"
)

// EventState is the public live state of an event.
type EventState struct {
	EventID                 string     `json:"eventId"`
	CurrentViewerCount      int        `json:"currentViewerCount"`
	PlaybackPositionSeconds float64    `json:"playbackPositionSeconds"`
	LastUpdatedAt           *time.Time `json:"lastUpdatedAt,omitempty"`
}

// EventState returns the viewer count and playback position of eventID.
func (s *Service) EventState(ctx context.Context, eventID string) (*EventState, error) {
	count, err := s.ViewerCount(ctx, eventID)
	if err != nil {
		return nil, err
	}
	state := &EventState{EventID: eventID, CurrentViewerCount: count}
	if st, ok := s.tracker.Get(eventID); ok {
		state.PlaybackPositionSeconds = st.PositionSeconds
		at := st.LastUpdatedAt
		state.LastUpdatedAt = &at
	}
	return state, nil
}

// Sessions lists live sessions, optionally for one event.
func (s *Service) Sessions(ctx context.Context, eventID string) ([]*models.ViewingSession, error) {
	if eventID != "" {
		return s.sessions.ListEventSessions(ctx, eventID)
	}
	return s.sessions.ListSessions(ctx)
}

// Ledgers lists every view-limit ledger.
func (s *Service) Ledgers(ctx context.Context) ([]*models.ViewLimitLedger, error) {
	return s.ledgers.ListLedgers(ctx)
}
