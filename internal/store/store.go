// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package store holds the session registry and the view-limit ledger table.
//
// Both tables sit behind small interfaces so the lifecycle service does not
// care whether state lives in process memory, in Badger on local disk, or in
// Redis. Ledger writes are compare-and-swap on a store-owned version; the
// lifecycle service still serializes per-key work with its own locks, and the
// version check catches any writer those locks cannot see.
package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/marquee/internal/models"
)

var (
	// ErrSessionExists is returned by InsertSession when the key is taken.
	ErrSessionExists = fmt.Errorf("%w: session already exists", models.ErrConflict)

	// ErrVersionMismatch is returned when a compare-and-swap loses a race.
	ErrVersionMismatch = fmt.Errorf("%w: ledger version mismatch", models.ErrConflict)

	// ErrLedgerNotFound is returned for unknown ledger keys.
	ErrLedgerNotFound = fmt.Errorf("%w: ledger", models.ErrNotFound)

	// ErrSessionNotFound is returned for unknown session keys.
	ErrSessionNotFound = fmt.Errorf("%w: session", models.ErrNotFound)
)

// SessionStore is the session registry: at most one session per key.
type SessionStore interface {
	// GetSession returns a copy of the session or ErrSessionNotFound.
	GetSession(ctx context.Context, key models.SessionKey) (*models.ViewingSession, error)

	// InsertSession stores a new session, failing with ErrSessionExists.
	InsertSession(ctx context.Context, s *models.ViewingSession) error

	// PutSession overwrites an existing session.
	PutSession(ctx context.Context, s *models.ViewingSession) error

	// DeleteSession removes the session and reports whether it existed.
	DeleteSession(ctx context.Context, key models.SessionKey) (bool, error)

	// ListSessions returns copies of every live session.
	ListSessions(ctx context.Context) ([]*models.ViewingSession, error)

	// ListEventSessions returns copies of the live sessions for one event.
	ListEventSessions(ctx context.Context, eventID string) ([]*models.ViewingSession, error)
}

// LedgerStore is the view-limit ledger table.
type LedgerStore interface {
	// GetLedger returns a copy of the ledger or ErrLedgerNotFound.
	GetLedger(ctx context.Context, key models.LedgerKey) (*models.ViewLimitLedger, error)

	// CompareAndSwapLedger stores next if the stored version equals
	// expectedVersion (zero meaning "must not exist") and returns the stored
	// copy carrying its new version.
	CompareAndSwapLedger(ctx context.Context, expectedVersion uint64, next *models.ViewLimitLedger) (*models.ViewLimitLedger, error)

	// DeleteLedger removes the ledger if its version still equals expectedVersion.
	DeleteLedger(ctx context.Context, key models.LedgerKey, expectedVersion uint64) error

	// ListLedgers returns copies of every ledger.
	ListLedgers(ctx context.Context) ([]*models.ViewLimitLedger, error)
}

// DistinctUsers counts distinct user IDs among sessions.
func DistinctUsers(sessions []*models.ViewingSession) int {
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		seen[s.Key.UserID] = struct{}{}
	}
	return len(seen)
}
