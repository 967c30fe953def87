// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

//go:build integration

package audit

import (
	"context"
	"testing"
	"time"
)

func TestDuckDBStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDuckDB(ctx, "")
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Microsecond)
	events := []Event{
		{ID: "a", Timestamp: now.Add(-48 * time.Hour), Type: EventTypeSessionStarted, Severity: SeverityInfo, Outcome: OutcomeSuccess, Actor: UserActor("u1", "a@example.com"), EventID: "e1", DeviceID: "d1", Action: "started"},
		{ID: "b", Timestamp: now, Type: EventTypeSessionQuotaExceeded, Severity: SeverityWarning, Outcome: OutcomeFailure, Actor: UserActor("u1", ""), EventID: "e1", Action: "quota_exceeded", Metadata: []byte(`{"total":900}`)},
	}
	for i := range events {
		if err := s.Save(ctx, &events[i]); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.Query(ctx, QueryFilter{EventID: "e1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" {
		t.Fatalf("Query() = %+v, want newest first", got)
	}
	if got[1].Actor.Email != "a@example.com" || got[1].DeviceID != "d1" {
		t.Errorf("scanned event = %+v", got[1])
	}

	n, err := s.Count(ctx, QueryFilter{Outcomes: []Outcome{OutcomeFailure}})
	if err != nil || n != 1 {
		t.Errorf("Count(failure) = %d, %v, want 1", n, err)
	}

	deleted, err := s.Delete(ctx, now.Add(-time.Hour))
	if err != nil || deleted != 1 {
		t.Errorf("Delete() = %d, %v, want 1", deleted, err)
	}
}
