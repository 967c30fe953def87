// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package invitation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/marquee/internal/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.Invitation
	byHash  map[string]string
	pending map[string]string // triple -> id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*models.Invitation),
		byHash:  make(map[string]string),
		pending: make(map[string]string),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, inv *models.Invitation, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	triple := tripleKey(inv)
	if id, ok := m.pending[triple]; ok {
		if existing := m.byID[id]; existing != nil && existing.Status == models.InvitationPending {
			if !existing.Expired(now) {
				return ErrPendingExists
			}
			existing.Status = models.InvitationExpired
		}
	}

	stored := cloneInvitation(inv)
	m.byID[stored.ID] = stored
	m.byHash[stored.TokenHash] = stored.ID
	m.pending[triple] = stored.ID
	return nil
}

// ByTokenHash implements Store.
func (m *MemoryStore) ByTokenHash(_ context.Context, tokenHash string) (*models.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvitation(m.byID[id]), nil
}

// MarkAccepted implements Store.
func (m *MemoryStore) MarkAccepted(_ context.Context, id, inviteeID string, at time.Time) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Status != models.InvitationPending {
		return nil, ErrNotPending
	}
	inv.Status = models.InvitationAccepted
	inv.InviteeID = inviteeID
	accepted := at
	inv.AcceptedAt = &accepted
	delete(m.pending, tripleKey(inv))
	return cloneInvitation(inv), nil
}

// ExpirePending implements Store.
func (m *MemoryStore) ExpirePending(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for triple, id := range m.pending {
		inv := m.byID[id]
		if inv.Status == models.InvitationPending && inv.Expired(now) {
			inv.Status = models.InvitationExpired
			delete(m.pending, triple)
			n++
		}
	}
	return n, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]*models.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Invitation, 0, len(m.byID))
	for _, inv := range m.byID {
		out = append(out, cloneInvitation(inv))
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(invs []*models.Invitation) {
	sort.Slice(invs, func(i, j int) bool {
		if invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].ID < invs[j].ID
		}
		return invs[i].CreatedAt.After(invs[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
