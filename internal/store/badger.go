// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
)

const ledgerKeyPrefix = "ledger:"

// BadgerLedgerStore persists ledgers in BadgerDB so that quota totals
// survive a restart of a single-node deployment.
type BadgerLedgerStore struct {
	db *badger.DB
}

// NewBadgerLedgerStore wraps an open BadgerDB. The caller owns db.
func NewBadgerLedgerStore(db *badger.DB) *BadgerLedgerStore {
	return &BadgerLedgerStore{db: db}
}

// OpenBadger opens a BadgerDB at dir, or an in-memory instance when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

func badgerLedgerKey(key models.LedgerKey) []byte {
	return []byte(ledgerKeyPrefix + key.String())
}

func readLedger(txn *badger.Txn, key models.LedgerKey) (*models.ViewLimitLedger, error) {
	item, err := txn.Get(badgerLedgerKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	var l models.ViewLimitLedger
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &l)
	}); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &l, nil
}

// GetLedger returns the stored ledger.
func (s *BadgerLedgerStore) GetLedger(_ context.Context, key models.LedgerKey) (*models.ViewLimitLedger, error) {
	var l *models.ViewLimitLedger
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		l, err = readLedger(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// CompareAndSwapLedger writes next inside one Badger transaction. Badger's
// optimistic concurrency turns a concurrent writer into ErrVersionMismatch.
func (s *BadgerLedgerStore) CompareAndSwapLedger(_ context.Context, expectedVersion uint64, next *models.ViewLimitLedger) (*models.ViewLimitLedger, error) {
	stored := next.Clone()
	err := s.db.Update(func(txn *badger.Txn) error {
		var current uint64
		existing, err := readLedger(txn, next.Key)
		switch {
		case err == nil:
			current = existing.Version
		case !errors.Is(err, ErrLedgerNotFound):
			return err
		}
		if current != expectedVersion {
			return ErrVersionMismatch
		}

		stored.Version = current + 1
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal ledger: %w", err)
		}
		return txn.Set(badgerLedgerKey(next.Key), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, ErrVersionMismatch
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteLedger removes the ledger if its version matches.
func (s *BadgerLedgerStore) DeleteLedger(_ context.Context, key models.LedgerKey, expectedVersion uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := readLedger(txn, key)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return ErrVersionMismatch
		}
		return txn.Delete(badgerLedgerKey(key))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionMismatch
	}
	return err
}

// ListLedgers scans the ledger prefix.
func (s *BadgerLedgerStore) ListLedgers(_ context.Context) ([]*models.ViewLimitLedger, error) {
	var out []*models.ViewLimitLedger
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(ledgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var l models.ViewLimitLedger
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &l)
			}); err != nil {
				return fmt.Errorf("decode ledger: %w", err)
			}
			out = append(out, &l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	return out, nil
}

var _ LedgerStore = (*BadgerLedgerStore)(nil)
