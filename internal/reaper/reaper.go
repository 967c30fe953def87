// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package reaper periodically removes abandoned viewing state: sessions
// whose heartbeats stopped, ledgers idle past their retention window, and
// pending invitations past their expiry.
package reaper

import (
	"context"
	"time"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/viewing"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 30 * time.Second

// Sweeper expires sessions and retires ledgers.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (viewing.SweepResult, error)
}

// InvitationExpirer marks stale pending invitations as expired.
type InvitationExpirer interface {
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// Result reports one sweep.
type Result struct {
	viewing.SweepResult
	ExpiredInvitations int `json:"expiredInvitations"`
}

// Reaper runs sweeps on a ticker. It implements suture.Service.
type Reaper struct {
	sessions    Sweeper
	invitations InvitationExpirer
	interval    time.Duration
	now         func() time.Time
}

// New creates a reaper. invitations may be nil.
func New(sessions Sweeper, invitations InvitationExpirer, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		sessions:    sessions,
		invitations: invitations,
		interval:    interval,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// SweepOnce runs a single sweep at now. A failing invitation sweep does
// not prevent the session sweep from being reported.
func (r *Reaper) SweepOnce(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result Result
	swept, err := r.sessions.Sweep(ctx, now)
	result.SweepResult = swept
	if err != nil {
		return result, err
	}

	if r.invitations != nil {
		n, err := r.invitations.ExpirePending(ctx, now)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to expire pending invitations")
		}
		result.ExpiredInvitations = n
	}

	metrics.ReaperSweeps.Inc()
	if result.ExpiredSessions > 0 || result.RetiredLedgers > 0 || result.ReconciledLedgers > 0 || result.ExpiredInvitations > 0 {
		logging.Ctx(ctx).Info().
			Int("expired_sessions", result.ExpiredSessions).
			Int("retired_ledgers", result.RetiredLedgers).
			Int("reconciled_ledgers", result.ReconciledLedgers).
			Int("expired_invitations", result.ExpiredInvitations).
			Msg("Reaper sweep completed")
	}
	return result, nil
}

// Serve implements suture.Service. Sweep errors are logged and the loop
// continues; it returns when ctx is canceled.
func (r *Reaper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.interval).Msg("Reaper started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx, r.now()); err != nil && ctx.Err() == nil {
				logging.Ctx(ctx).Error().Err(err).Msg("Reaper sweep failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (r *Reaper) String() string {
	return "reaper"
}
