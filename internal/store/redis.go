// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
)

// RedisConfig configures the Redis ledger store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLedgerStore keeps ledgers in Redis. Compare-and-swap is implemented
// with WATCH/MULTI so concurrent writers lose with ErrVersionMismatch.
type RedisLedgerStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLedgerStore connects and pings Redis.
func NewRedisLedgerStore(ctx context.Context, cfg RedisConfig) (*RedisLedgerStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "marquee:"
	}
	return &RedisLedgerStore{client: client, prefix: prefix + ledgerKeyPrefix}, nil
}

// Close closes the Redis client.
func (s *RedisLedgerStore) Close() error {
	return s.client.Close()
}

func (s *RedisLedgerStore) key(key models.LedgerKey) string {
	return s.prefix + key.String()
}

func decodeRedisLedger(data []byte) (*models.ViewLimitLedger, error) {
	var l models.ViewLimitLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &l, nil
}

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRedisLedger(ctx context.Context, c redisGetter, key string) (*models.ViewLimitLedger, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %v", models.ErrUpstreamUnavailable, err)
	}
	return decodeRedisLedger(data)
}

// GetLedger returns the stored ledger.
func (s *RedisLedgerStore) GetLedger(ctx context.Context, key models.LedgerKey) (*models.ViewLimitLedger, error) {
	return getRedisLedger(ctx, s.client, s.key(key))
}

// CompareAndSwapLedger writes next if the stored version is expectedVersion.
func (s *RedisLedgerStore) CompareAndSwapLedger(ctx context.Context, expectedVersion uint64, next *models.ViewLimitLedger) (*models.ViewLimitLedger, error) {
	k := s.key(next.Key)
	stored := next.Clone()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current uint64
		existing, err := getRedisLedger(ctx, tx, k)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			return nil
		})
		return err
	}, k)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrVersionMismatch
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteLedger removes the ledger if its version matches.
func (s *RedisLedgerStore) DeleteLedger(ctx context.Context, key models.LedgerKey, expectedVersion uint64) error {
	k := s.key(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := getRedisLedger(ctx, tx, k)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionMismatch
	}
	return err
}

// ListLedgers scans the key prefix.
func (s *RedisLedgerStore) ListLedgers(ctx context.Context) ([]*models.ViewLimitLedger, error) {
	var out []*models.ViewLimitLedger
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		l, err := getRedisLedger(ctx, s.client, iter.Val())
		if errors.Is(err, ErrLedgerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan: %v", models.ErrUpstreamUnavailable, err)
	}
	sortLedgers(out)
	return out, nil
}

var _ LedgerStore = (*RedisLedgerStore)(nil)
