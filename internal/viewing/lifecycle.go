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
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
)

// maxAttributionAttempts bounds retries when a session's ledger
// attribution changes between the unlocked read and the locked one.
const maxAttributionAttempts = 3

// errAttributionChanged restarts an operation whose lock set no longer
// covers the session's ledger.
var errAttributionChanged = errors.New("session attribution changed")

// attribution is the ledger a session is charged to.
type attribution struct {
	ledgerKey models.LedgerKey
	shared    bool
	inviterID string
}

func attributionOf(sess *models.ViewingSession) attribution {
	return attribution{ledgerKey: sess.LedgerKey(), shared: sess.IsSharedViewer, inviterID: sess.InviterID}
}

func (s *Service) getSession(ctx context.Context, key models.SessionKey) (*models.ViewingSession, error) {
	sess, err := s.sessions.GetSession(ctx, key)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, nil
	}
	return sess, err
}

// Start opens a session, or resumes the existing one for the same
// (device, user, event).
func (s *Service) Start(ctx context.Context, req Request) (*Snapshot, error) {
	event, err := s.lookup.Event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	key := req.key()

	existing, err := s.getSession(ctx, key)
	if err != nil {
		return nil, err
	}
	var attr attribution
	if existing != nil {
		attr = attributionOf(existing)
	} else {
		attr, err = s.resolveAttribution(ctx, req)
		if err != nil {
			s.recordStartRejection(ctx, req, err)
			return nil, err
		}
	}

	for attempt := 0; attempt < maxAttributionAttempts; attempt++ {
		fresh, err := s.ledgerTemplate(ctx, attr.ledgerKey, event)
		if err != nil {
			return nil, err
		}
		snap, next, err := s.commitStart(ctx, req, attr, fresh)
		if errors.Is(err, errAttributionChanged) {
			if next != nil {
				attr = *next
			}
			continue
		}
		return snap, err
	}
	return nil, fmt.Errorf("%w: session %s changed concurrently", models.ErrConflict, key)
}

// resolveAttribution decides whose ledger a new session is charged to.
// A pending invitation, or one this viewer already accepted, makes it a
// shared session on the inviter's ledger; any invalid token falls back to
// the viewer's own ledger.
func (s *Service) resolveAttribution(ctx context.Context, req Request) (attribution, error) {
	own := attribution{ledgerKey: models.LedgerKey{UserID: req.UserID, EventID: req.EventID}}
	if req.InvitationToken == "" || s.invitations == nil {
		return own, nil
	}

	inv, err := s.invitations.Resolve(ctx, req.InvitationToken, req.EventID, req.UserID, req.Email)
	if errors.Is(err, models.ErrInvitationInvalid) {
		logging.Ctx(ctx).Debug().Err(err).Str("event_id", req.EventID).Msg("Ignoring invitation token")
		return own, nil
	}
	if err != nil {
		return attribution{}, err
	}
	if inv.InviterID == req.UserID {
		return own, nil
	}

	// An exhausted inviter is rejected before the token is consumed.
	inviterKey := models.LedgerKey{UserID: inv.InviterID, EventID: req.EventID}
	ledger, err := s.ledgers.GetLedger(ctx, inviterKey)
	switch {
	case err == nil:
		if ledger.QuotaExhausted() {
			return attribution{}, fmt.Errorf("%w: inviter has used the viewing allowance", models.ErrQuotaExceeded)
		}
	case !errors.Is(err, store.ErrLedgerNotFound):
		return attribution{}, err
	}

	// Already accepted by this viewer, through the accept route or an
	// earlier shared session. It grants one shared seat: a viewer already
	// on the inviter's roster watches a second device on their own ledger.
	if inv.Status == models.InvitationAccepted {
		if err == nil && ledger.ActiveViewerEmails[models.NormalizeEmail(req.Email)] {
			return own, nil
		}
		return attribution{ledgerKey: inviterKey, shared: true, inviterID: inv.InviterID}, nil
	}

	accepted, err := s.invitations.Accept(ctx, req.InvitationToken, req.UserID, req.Email, req.EventID)
	if errors.Is(err, models.ErrInvitationInvalid) {
		return own, nil
	}
	if err != nil {
		return attribution{}, err
	}
	return attribution{ledgerKey: inviterKey, shared: true, inviterID: accepted.InviterID}, nil
}

// ledgerTemplate returns a constructor for key's ledger if it does not
// exist yet, or nil if it does. The premium lookup happens here, outside
// any lock.
func (s *Service) ledgerTemplate(ctx context.Context, key models.LedgerKey, event *models.Event) (func() *models.ViewLimitLedger, error) {
	_, err := s.ledgers.GetLedger(ctx, key)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrLedgerNotFound) {
		return nil, err
	}

	user, err := s.lookup.User(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	premium := user.Premium(now)
	maxDevices := s.cfg.DefaultMaxDevices
	if premium {
		maxDevices = max(event.AllowedViewers, s.cfg.PremiumMaxDevices)
	}

	return func() *models.ViewLimitLedger {
		return &models.ViewLimitLedger{
			Key:                key,
			MaxViewSeconds:     s.cfg.MaxViewSeconds,
			IsPremium:          premium,
			MaxDevices:         maxDevices,
			ActiveViewerEmails: make(map[string]bool),
			CreatedAt:          now,
			LastUpdatedAt:      now,
		}
	}, nil
}

// startOutcome is what commitStart did under the lock.
type startOutcome int

const (
	startCreated startOutcome = iota
	startResumed
	startTerminated
)

func (s *Service) commitStart(ctx context.Context, req Request, attr attribution, fresh func() *models.ViewLimitLedger) (*Snapshot, *attribution, error) {
	key := req.key()
	unlock := s.locks.lock(key.Owner(), attr.ledgerKey)

	existing, err := s.getSession(ctx, key)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if existing != nil && existing.LedgerKey() != attr.ledgerKey {
		unlock()
		next := attributionOf(existing)
		return nil, &next, errAttributionChanged
	}

	now := s.now()
	var (
		outcome startOutcome
		elapsed int64
	)
	if existing != nil {
		elapsed = models.ElapsedSeconds(existing.LastActiveAt, now)
	}

	ledger, err := s.mutateLedger(ctx, attr.ledgerKey, fresh, func(l *models.ViewLimitLedger) error {
		if existing != nil {
			outcome = startResumed
			l.Charge(elapsed)
			l.LastUpdatedAt = now
			if l.QuotaExhausted() {
				outcome = startTerminated
				l.ReleaseDevice()
				if existing.IsSharedViewer {
					l.RemoveViewer(existing.ViewerEmail)
				}
			}
			return nil
		}

		outcome = startCreated
		if l.QuotaExhausted() {
			return fmt.Errorf("%w: %d of %d seconds used", models.ErrQuotaExceeded, l.TotalViewSeconds, l.MaxViewSeconds)
		}
		if !attr.shared && l.DeviceCount >= l.MaxDevices {
			return fmt.Errorf("%w: %d of %d devices in use", models.ErrDeviceLimitExceeded, l.DeviceCount, l.MaxDevices)
		}
		l.DeviceCount++
		if attr.shared {
			l.AddViewer(req.Email)
		}
		l.LastUpdatedAt = now
		return nil
	})
	if errors.Is(err, errLedgerMissing) {
		unlock()
		return nil, &attr, errAttributionChanged
	}
	if err != nil {
		unlock()
		s.recordStartRejection(ctx, req, err)
		return nil, nil, err
	}

	if outcome != startCreated && !ledger.IsPremium {
		chargedSeconds(elapsed)
	}

	var sess *models.ViewingSession
	switch outcome {
	case startTerminated:
		if _, err := s.sessions.DeleteSession(ctx, key); err != nil {
			unlock()
			return nil, nil, err
		}
	case startResumed:
		sess = existing
		sess.LastActiveAt = now
		sess.AccumulatedViewSeconds += elapsed
		if err := s.sessions.PutSession(ctx, sess); err != nil {
			unlock()
			return nil, nil, err
		}
	case startCreated:
		sess = &models.ViewingSession{
			Key:            key,
			ViewerEmail:    models.NormalizeEmail(req.Email),
			StartedAt:      now,
			LastActiveAt:   now,
			IsSharedViewer: attr.shared,
			InviterID:      attr.inviterID,
		}
		if err := s.sessions.InsertSession(ctx, sess); err != nil {
			s.rollbackDevice(ctx, attr, req.Email, now)
			unlock()
			return nil, nil, err
		}
		s.tracker.Ensure(req.EventID)
	}
	unlock()

	switch outcome {
	case startTerminated:
		s.afterRemoval(ctx, req.EventID)
		s.record(ctx, audit.EventTypeSessionQuotaExceeded, audit.OutcomeFailure, existing, req.Email,
			"allowance used while resuming", map[string]interface{}{"total_view_seconds": ledger.TotalViewSeconds})
		return nil, nil, fmt.Errorf("%w: %d of %d seconds used", models.ErrQuotaExceeded, ledger.TotalViewSeconds, ledger.MaxViewSeconds)
	case startResumed:
		s.record(ctx, audit.EventTypeSessionResumed, audit.OutcomeSuccess, sess, req.Email, "", nil)
	case startCreated:
		count, err := s.ViewerCount(ctx, req.EventID)
		if err == nil {
			s.broadcastViewerCount(req.EventID, count)
		}
		meta := map[string]interface{}{"device_count": ledger.DeviceCount, "premium": ledger.IsPremium}
		if attr.shared {
			meta["inviter_id"] = attr.inviterID
		}
		s.record(ctx, audit.EventTypeSessionStarted, audit.OutcomeSuccess, sess, req.Email, "", meta)
	}

	snap := s.snapshot(ctx, req.EventID, ledger, sess)
	snap.Resumed = outcome == startResumed
	return snap, nil, nil
}

// rollbackDevice undoes the device slot taken for a session that could not
// be stored. Called with the locks held.
func (s *Service) rollbackDevice(ctx context.Context, attr attribution, email string, now time.Time) {
	_, err := s.mutateLedger(ctx, attr.ledgerKey, nil, func(l *models.ViewLimitLedger) error {
		l.ReleaseDevice()
		if attr.shared {
			l.RemoveViewer(email)
		}
		l.LastUpdatedAt = now
		return nil
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("ledger", attr.ledgerKey.String()).Msg("Failed to roll back device slot")
	}
}

func (s *Service) recordStartRejection(ctx context.Context, req Request, err error) {
	var typ audit.EventType
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		typ = audit.EventTypeSessionQuotaExceeded
	case errors.Is(err, models.ErrDeviceLimitExceeded):
		typ = audit.EventTypeSessionDeviceLimit
	default:
		return
	}
	s.audit.Record(ctx, typ, audit.OutcomeFailure, audit.UserActor(req.UserID, req.Email),
		req.EventID, req.DeviceID, err.Error(), nil)
}

// Heartbeat meters the time since the last heartbeat and records the
// reported playback position.
func (s *Service) Heartbeat(ctx context.Context, req Request) (*Snapshot, error) {
	key := req.key()
	for attempt := 0; attempt < maxAttributionAttempts; attempt++ {
		pre, err := s.getSession(ctx, key)
		if err != nil {
			return nil, err
		}
		if pre == nil {
			return nil, fmt.Errorf("%w: no active session", models.ErrSessionExpired)
		}
		snap, err := s.heartbeat(ctx, req, pre.LedgerKey())
		if errors.Is(err, errAttributionChanged) {
			continue
		}
		return snap, err
	}
	return nil, fmt.Errorf("%w: session %s changed concurrently", models.ErrConflict, key)
}

func (s *Service) heartbeat(ctx context.Context, req Request, ledgerKey models.LedgerKey) (*Snapshot, error) {
	key := req.key()
	unlock := s.locks.lock(key.Owner(), ledgerKey)

	sess, err := s.getSession(ctx, key)
	if err != nil {
		unlock()
		return nil, err
	}
	if sess == nil {
		unlock()
		return nil, fmt.Errorf("%w: no active session", models.ErrSessionExpired)
	}
	if sess.LedgerKey() != ledgerKey {
		unlock()
		return nil, errAttributionChanged
	}

	now := s.now()
	elapsed := models.ElapsedSeconds(sess.LastActiveAt, now)
	exhausted := false
	ledger, err := s.mutateLedger(ctx, ledgerKey, nil, func(l *models.ViewLimitLedger) error {
		exhausted = false
		l.Charge(elapsed)
		l.LastUpdatedAt = now
		if l.QuotaExhausted() {
			exhausted = true
			l.ReleaseDevice()
			if sess.IsSharedViewer {
				l.RemoveViewer(sess.ViewerEmail)
			}
		}
		return nil
	})
	if errors.Is(err, errLedgerMissing) {
		_, _ = s.sessions.DeleteSession(ctx, key)
		unlock()
		s.afterRemoval(ctx, req.EventID)
		return nil, fmt.Errorf("%w: ledger no longer exists", models.ErrSessionExpired)
	}
	if err != nil {
		unlock()
		return nil, err
	}
	if !ledger.IsPremium {
		chargedSeconds(elapsed)
	}

	if exhausted {
		_, err := s.sessions.DeleteSession(ctx, key)
		unlock()
		if err != nil {
			return nil, err
		}
		s.afterRemoval(ctx, req.EventID)
		s.record(ctx, audit.EventTypeSessionQuotaExceeded, audit.OutcomeFailure, sess, req.Email,
			"allowance used", map[string]interface{}{"total_view_seconds": ledger.TotalViewSeconds})
		return nil, fmt.Errorf("%w: %d of %d seconds used", models.ErrQuotaExceeded, ledger.TotalViewSeconds, ledger.MaxViewSeconds)
	}

	sess.LastActiveAt = now
	sess.AccumulatedViewSeconds += elapsed
	var (
		accepted bool
		position float64
	)
	if req.CurrentTime != nil {
		ct := *req.CurrentTime
		sess.LastReportedPlaybackSeconds = &ct
		accepted, position = s.tracker.Report(req.EventID, ct)
	}
	err = s.sessions.PutSession(ctx, sess)
	unlock()
	if err != nil {
		return nil, err
	}

	if accepted && s.broadcaster != nil {
		s.broadcaster.BroadcastPlayback(req.EventID, position, ServerDeviceID)
	}
	return s.snapshot(ctx, req.EventID, ledger, sess), nil
}

// End closes a session. Ending a session that does not exist succeeds with
// a zero view duration.
func (s *Service) End(ctx context.Context, req Request) (*Snapshot, error) {
	key := req.key()
	for attempt := 0; attempt < maxAttributionAttempts; attempt++ {
		pre, err := s.getSession(ctx, key)
		if err != nil {
			return nil, err
		}
		if pre == nil {
			return s.alreadyEnded(ctx, req), nil
		}
		snap, err := s.end(ctx, req, pre.LedgerKey())
		if errors.Is(err, errAttributionChanged) {
			continue
		}
		return snap, err
	}
	return nil, fmt.Errorf("%w: session %s changed concurrently", models.ErrConflict, key)
}

func (s *Service) alreadyEnded(ctx context.Context, req Request) *Snapshot {
	ledger, err := s.ledgers.GetLedger(ctx, req.key().Owner())
	if err != nil {
		ledger = nil
	}
	snap := s.snapshot(ctx, req.EventID, ledger, nil)
	zero := int64(0)
	snap.ViewDuration = &zero
	return snap
}

func (s *Service) end(ctx context.Context, req Request, ledgerKey models.LedgerKey) (*Snapshot, error) {
	key := req.key()
	unlock := s.locks.lock(key.Owner(), ledgerKey)

	sess, err := s.getSession(ctx, key)
	if err != nil {
		unlock()
		return nil, err
	}
	if sess == nil {
		unlock()
		return s.alreadyEnded(ctx, req), nil
	}
	if sess.LedgerKey() != ledgerKey {
		unlock()
		return nil, errAttributionChanged
	}

	now := s.now()
	viewDuration := models.ElapsedSeconds(sess.StartedAt, now)
	ledger, charged, err := s.releaseSession(ctx, sess, now)
	if err != nil {
		unlock()
		return nil, err
	}
	if _, err := s.sessions.DeleteSession(ctx, key); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.afterRemoval(ctx, req.EventID)
	s.record(ctx, audit.EventTypeSessionEnded, audit.OutcomeSuccess, sess, req.Email, "",
		map[string]interface{}{"view_duration_seconds": viewDuration, "charged_seconds": charged})

	snap := s.snapshot(ctx, req.EventID, ledger, sess)
	snap.ViewDuration = &viewDuration
	return snap, nil
}
