// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package viewing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
)

// SweepResult reports what one sweep removed.
type SweepResult struct {
	ExpiredSessions   int `json:"expiredSessions"`
	RetiredLedgers    int `json:"retiredLedgers"`
	ReconciledLedgers int `json:"reconciledLedgers"`
}

// Sweep expires sessions idle longer than the session timeout, corrects
// ledgers whose device count or roster disagrees with the live sessions
// (left behind by a restart over a persistent ledger store), and retires
// ledgers with no devices that have been idle longer than the idle window.
// It takes the same locks as the lifecycle actions.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	sessions, err := s.sessions.ListSessions(ctx)
	if err != nil {
		return result, fmt.Errorf("list sessions: %w", err)
	}
	touched := make(map[string]struct{})
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if sess.IdleFor(now) <= s.cfg.SessionTimeout {
			continue
		}
		expired, err := s.expireSession(ctx, sess.Key, sess.LedgerKey(), now)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session", sess.Key.String()).Msg("Failed to expire session")
			continue
		}
		if expired {
			result.ExpiredSessions++
			touched[sess.Key.EventID] = struct{}{}
		}
	}
	for eventID := range touched {
		s.afterRemoval(ctx, eventID)
	}

	ledgers, err := s.ledgers.ListLedgers(ctx)
	if err != nil {
		return result, fmt.Errorf("list ledgers: %w", err)
	}
	if !s.cfg.SharedLedgers {
		n, err := s.reconcileLedgers(ctx, ledgers)
		result.ReconciledLedgers = n
		if err != nil {
			return result, err
		}
	}

	live := 0
	for _, l := range ledgers {
		if l.DeviceCount > 0 || now.Sub(l.LastUpdatedAt) <= s.cfg.LedgerIdleWindow {
			live++
			continue
		}
		retired, err := s.retireLedger(ctx, l.Key, now)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("ledger", l.Key.String()).Msg("Failed to retire ledger")
		}
		if retired {
			result.RetiredLedgers++
		} else {
			live++
		}
	}

	metrics.ActiveSessions.Set(float64(len(sessions) - result.ExpiredSessions))
	metrics.ActiveLedgers.Set(float64(live))
	if result.ExpiredSessions > 0 {
		metrics.ReaperExpired.WithLabelValues("session").Add(float64(result.ExpiredSessions))
	}
	if result.RetiredLedgers > 0 {
		metrics.ReaperExpired.WithLabelValues("ledger").Add(float64(result.RetiredLedgers))
	}
	return result, nil
}

func (s *Service) expireSession(ctx context.Context, key models.SessionKey, ledgerKey models.LedgerKey, now time.Time) (bool, error) {
	unlock := s.locks.lock(key.Owner(), ledgerKey)
	defer unlock()

	sess, err := s.getSession(ctx, key)
	if err != nil {
		return false, err
	}
	// A heartbeat may have refreshed it, or an end removed it, since listing.
	if sess == nil || sess.IdleFor(now) <= s.cfg.SessionTimeout || sess.LedgerKey() != ledgerKey {
		return false, nil
	}

	ledger, charged, err := s.releaseSession(ctx, sess, now)
	if err != nil {
		return false, err
	}
	if _, err := s.sessions.DeleteSession(ctx, key); err != nil {
		return false, err
	}

	meta := map[string]interface{}{
		"user_id":         key.UserID,
		"charged_seconds": charged,
		"idle_seconds":    int64(sess.IdleFor(now) / time.Second),
	}
	if ledger != nil {
		meta["total_view_seconds"] = ledger.TotalViewSeconds
	}
	s.audit.Record(ctx, audit.EventTypeSessionExpired, audit.OutcomeSuccess, audit.SystemActor,
		key.EventID, key.DeviceID, "session timed out", meta)
	return true, nil
}

// errLedgerUnchanged stops a reconcile that found nothing to correct.
var errLedgerUnchanged = errors.New("ledger matches live sessions")

// occupancy is what the live sessions say a ledger should hold.
type occupancy struct {
	devices int
	viewers map[string]bool
}

func occupancyOf(key models.LedgerKey, sessions []*models.ViewingSession) occupancy {
	occ := occupancy{viewers: make(map[string]bool)}
	for _, sess := range sessions {
		if sess.LedgerKey() != key {
			continue
		}
		occ.devices++
		if sess.IsSharedViewer && sess.ViewerEmail != "" {
			occ.viewers[models.NormalizeEmail(sess.ViewerEmail)] = true
		}
	}
	return occ
}

func (o occupancy) matches(l *models.ViewLimitLedger) bool {
	if l.DeviceCount != o.devices || len(l.ActiveViewerEmails) != len(o.viewers) {
		return false
	}
	for e := range o.viewers {
		if !l.ActiveViewerEmails[e] {
			return false
		}
	}
	return true
}

// reconcileLedgers fixes every ledger in ledgers that disagrees with the
// live sessions, updating the slice entries in place.
func (s *Service) reconcileLedgers(ctx context.Context, ledgers []*models.ViewLimitLedger) (int, error) {
	sessions, err := s.sessions.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	byLedger := make(map[models.LedgerKey][]*models.ViewingSession)
	for _, sess := range sessions {
		byLedger[sess.LedgerKey()] = append(byLedger[sess.LedgerKey()], sess)
	}

	fixed := 0
	for i, l := range ledgers {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		if occupancyOf(l.Key, byLedger[l.Key]).matches(l) {
			continue
		}
		updated, err := s.reconcileLedger(ctx, l.Key)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("ledger", l.Key.String()).Msg("Failed to reconcile ledger")
			continue
		}
		if updated != nil {
			ledgers[i] = updated
			fixed++
		}
	}
	return fixed, nil
}

// reconcileLedger recounts key's sessions under the ledger's lock. Every
// session attributed to a ledger is created and removed under that lock,
// so the count read here is exact. LastUpdatedAt is left alone so that
// an orphaned ledger still retires on schedule.
func (s *Service) reconcileLedger(ctx context.Context, key models.LedgerKey) (*models.ViewLimitLedger, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	sessions, err := s.sessions.ListEventSessions(ctx, key.EventID)
	if err != nil {
		return nil, err
	}
	occ := occupancyOf(key, sessions)

	var before models.ViewLimitLedger
	updated, err := s.mutateLedger(ctx, key, nil, func(l *models.ViewLimitLedger) error {
		if occ.matches(l) {
			return errLedgerUnchanged
		}
		before = *l
		l.DeviceCount = occ.devices
		l.ActiveViewerEmails = make(map[string]bool, len(occ.viewers))
		for e := range occ.viewers {
			l.ActiveViewerEmails[e] = true
		}
		return nil
	})
	if errors.Is(err, errLedgerMissing) || errors.Is(err, errLedgerUnchanged) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Warn().
		Str("ledger", key.String()).
		Int("device_count_before", before.DeviceCount).
		Int("device_count", updated.DeviceCount).
		Int("viewers_before", len(before.ActiveViewerEmails)).
		Int("viewers", len(updated.ActiveViewerEmails)).
		Msg("Reconciled ledger with live sessions")
	s.audit.Record(ctx, audit.EventTypeLedgerReconciled, audit.OutcomeSuccess, audit.SystemActor,
		key.EventID, "", "ledger device count corrected", map[string]interface{}{
			"user_id":             key.UserID,
			"device_count_before": before.DeviceCount,
			"device_count":        updated.DeviceCount,
		})
	return updated, nil
}

func (s *Service) retireLedger(ctx context.Context, key models.LedgerKey, now time.Time) (bool, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	l, err := s.ledgers.GetLedger(ctx, key)
	if errors.Is(err, store.ErrLedgerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if l.DeviceCount > 0 || now.Sub(l.LastUpdatedAt) <= s.cfg.LedgerIdleWindow {
		return false, nil
	}
	err = s.ledgers.DeleteLedger(ctx, key, l.Version)
	if errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrLedgerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
