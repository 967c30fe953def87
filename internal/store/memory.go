// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/marquee/internal/models"
)

// MemorySessionStore keeps sessions in process memory, indexed by event so
// viewer counts do not scan the whole registry.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[models.SessionKey]*models.ViewingSession
	byEvent  map[string]map[models.SessionKey]struct{}
}

// NewMemorySessionStore creates an empty session registry.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[models.SessionKey]*models.ViewingSession),
		byEvent:  make(map[string]map[models.SessionKey]struct{}),
	}
}

// GetSession returns a copy of the session.
func (m *MemorySessionStore) GetSession(_ context.Context, key models.SessionKey) (*models.ViewingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// InsertSession stores a new session.
func (m *MemorySessionStore) InsertSession(_ context.Context, s *models.ViewingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Key]; ok {
		return ErrSessionExists
	}
	m.sessions[s.Key] = s.Clone()
	idx, ok := m.byEvent[s.Key.EventID]
	if !ok {
		idx = make(map[models.SessionKey]struct{})
		m.byEvent[s.Key.EventID] = idx
	}
	idx[s.Key] = struct{}{}
	return nil
}

// PutSession overwrites an existing session.
func (m *MemorySessionStore) PutSession(_ context.Context, s *models.ViewingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Key]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.Key] = s.Clone()
	return nil
}

// DeleteSession removes the session.
func (m *MemorySessionStore) DeleteSession(_ context.Context, key models.SessionKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return false, nil
	}
	delete(m.sessions, key)
	if idx, ok := m.byEvent[key.EventID]; ok {
		delete(idx, key)
		if len(idx) == 0 {
			delete(m.byEvent, key.EventID)
		}
	}
	return true, nil
}

// ListSessions returns every session ordered by key.
func (m *MemorySessionStore) ListSessions(_ context.Context) ([]*models.ViewingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ViewingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sortSessions(out)
	return out, nil
}

// ListEventSessions returns the sessions for one event ordered by key.
func (m *MemorySessionStore) ListEventSessions(_ context.Context, eventID string) ([]*models.ViewingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byEvent[eventID]
	out := make([]*models.ViewingSession, 0, len(idx))
	for key := range idx {
		out = append(out, m.sessions[key].Clone())
	}
	sortSessions(out)
	return out, nil
}

// Len returns the number of live sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func sortSessions(s []*models.ViewingSession) {
	sort.Slice(s, func(i, j int) bool { return s[i].Key.String() < s[j].Key.String() })
}

// MemoryLedgerStore keeps ledgers in process memory.
type MemoryLedgerStore struct {
	mu      sync.RWMutex
	ledgers map[models.LedgerKey]*models.ViewLimitLedger
}

// NewMemoryLedgerStore creates an empty ledger table.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{ledgers: make(map[models.LedgerKey]*models.ViewLimitLedger)}
}

// GetLedger returns a copy of the ledger.
func (m *MemoryLedgerStore) GetLedger(_ context.Context, key models.LedgerKey) (*models.ViewLimitLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.ledgers[key]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return l.Clone(), nil
}

// CompareAndSwapLedger stores next when the version matches.
func (m *MemoryLedgerStore) CompareAndSwapLedger(_ context.Context, expectedVersion uint64, next *models.ViewLimitLedger) (*models.ViewLimitLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current uint64
	if l, ok := m.ledgers[next.Key]; ok {
		current = l.Version
	}
	if current != expectedVersion {
		return nil, ErrVersionMismatch
	}

	stored := next.Clone()
	stored.Version = current + 1
	m.ledgers[next.Key] = stored
	return stored.Clone(), nil
}

// DeleteLedger removes the ledger when the version matches.
func (m *MemoryLedgerStore) DeleteLedger(_ context.Context, key models.LedgerKey, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[key]
	if !ok {
		return ErrLedgerNotFound
	}
	if l.Version != expectedVersion {
		return ErrVersionMismatch
	}
	delete(m.ledgers, key)
	return nil
}

// ListLedgers returns every ledger ordered by key.
func (m *MemoryLedgerStore) ListLedgers(_ context.Context) ([]*models.ViewLimitLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ViewLimitLedger, 0, len(m.ledgers))
	for _, l := range m.ledgers {
		out = append(out, l.Clone())
	}
	sortLedgers(out)
	return out, nil
}

func sortLedgers(l []*models.ViewLimitLedger) {
	sort.Slice(l, func(i, j int) bool { return l[i].Key.String() < l[j].Key.String() })
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ LedgerStore  = (*MemoryLedgerStore)(nil)
)
