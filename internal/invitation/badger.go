// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
)

const (
	prefixByID    = "inv:id:"
	prefixByHash  = "inv:hash:"
	prefixPending = "inv:pending:"

	maxTxnRetries = 3
)

// BadgerStore persists invitations in BadgerDB. Three key families are
// kept: the record by id, token hash to id, and pending triple to id.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open BadgerDB. The caller owns db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// update runs fn in a read-write transaction, retrying on Badger's
// optimistic-concurrency conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("invitation store: %w", err)
}

func getInvitation(txn *badger.Txn, id string) (*models.Invitation, error) {
	item, err := txn.Get([]byte(prefixByID + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	var inv models.Invitation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &inv)
	}); err != nil {
		return nil, fmt.Errorf("decode invitation: %w", err)
	}
	return &inv, nil
}

func getString(txn *badger.Txn, key string) (string, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

func putInvitation(txn *badger.Txn, inv *models.Invitation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invitation: %w", err)
	}
	return txn.Set([]byte(prefixByID+inv.ID), data)
}

// Insert implements Store.
func (s *BadgerStore) Insert(_ context.Context, inv *models.Invitation, now time.Time) error {
	stored := cloneInvitation(inv)
	pendingKey := prefixPending + tripleKey(stored)

	return s.update(func(txn *badger.Txn) error {
		id, ok, err := getString(txn, pendingKey)
		if err != nil {
			return err
		}
		if ok {
			existing, err := getInvitation(txn, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if existing != nil && existing.Status == models.InvitationPending {
				if !existing.Expired(now) {
					return ErrPendingExists
				}
				existing.Status = models.InvitationExpired
				if err := putInvitation(txn, existing); err != nil {
					return err
				}
			}
		}

		if err := putInvitation(txn, stored); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixByHash+stored.TokenHash), []byte(stored.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(pendingKey), []byte(stored.ID))
	})
}

// ByTokenHash implements Store.
func (s *BadgerStore) ByTokenHash(_ context.Context, tokenHash string) (*models.Invitation, error) {
	var inv *models.Invitation
	err := s.db.View(func(txn *badger.Txn) error {
		id, ok, err := getString(txn, prefixByHash+tokenHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		inv, err = getInvitation(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkAccepted implements Store.
func (s *BadgerStore) MarkAccepted(_ context.Context, id, inviteeID string, at time.Time) (*models.Invitation, error) {
	var out *models.Invitation
	err := s.update(func(txn *badger.Txn) error {
		inv, err := getInvitation(txn, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvitationPending {
			return ErrNotPending
		}
		inv.Status = models.InvitationAccepted
		inv.InviteeID = inviteeID
		accepted := at
		inv.AcceptedAt = &accepted
		if err := putInvitation(txn, inv); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixPending + tripleKey(inv))); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpirePending implements Store.
func (s *BadgerStore) ExpirePending(_ context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.update(func(txn *badger.Txn) error {
		expired = 0
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		var stale [][]byte
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stale = append(stale, item.KeyCopy(nil))
			ids = append(ids, string(val))
		}

		for i, id := range ids {
			inv, err := getInvitation(txn, id)
			if err != nil {
				return err
			}
			if inv.Status != models.InvitationPending || !inv.Expired(now) {
				continue
			}
			inv.Status = models.InvitationExpired
			if err := putInvitation(txn, inv); err != nil {
				return err
			}
			if err := txn.Delete(stale[i]); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context) ([]*models.Invitation, error) {
	var out []*models.Invitation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixByID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var inv models.Invitation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inv)
			}); err != nil {
				return fmt.Errorf("decode invitation: %w", err)
			}
			out = append(out, &inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

var _ Store = (*BadgerStore)(nil)
