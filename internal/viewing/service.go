// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package viewing implements the viewing-session lifecycle: start,
// heartbeat and end, metered against a per-(user, event) view-limit ledger.
//
// Every read-modify-write runs under the striped locks of the viewer's own
// (user, event) key and of the ledger the session is charged to. Upstream
// lookups happen before any lock is taken. Ledger writes additionally go
// through the store's compare-and-swap so a shared ledger store stays
// consistent across processes.
package viewing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/playback"
	"github.com/tomtom215/marquee/internal/store"
)

// Action is a lifecycle action.
type Action string

const (
	ActionStart     Action = "start"
	ActionHeartbeat Action = "heartbeat"
	ActionEnd       Action = "end"
)

// ServerDeviceID is the device reported on playback positions accepted
// through heartbeats.
const ServerDeviceID = "server"

// Request is one lifecycle call from an authenticated viewer.
type Request struct {
	UserID          string
	Email           string
	EventID         string
	DeviceID        string
	Action          Action
	Duration        *int64 // client-reported; ignored, the server clock is authoritative
	InvitationToken string
	CurrentTime     *float64
}

// Snapshot is the state returned after every successful action.
type Snapshot struct {
	RemainingSeconds        int64    `json:"remainingSeconds"`
	Unlimited               bool     `json:"unlimited"`
	TotalViewSeconds        int64    `json:"totalViewSeconds"`
	DeviceCount             int      `json:"deviceCount"`
	MaxDevices              int      `json:"maxDevices"`
	IsPremium               bool     `json:"isPremium"`
	IsSharedViewer          bool     `json:"isSharedViewer"`
	InviterID               string   `json:"inviterId,omitempty"`
	ActiveViewerEmails      []string `json:"activeViewerEmails"`
	CurrentViewerCount      int      `json:"currentViewerCount"`
	PlaybackPositionSeconds float64  `json:"playbackPositionSeconds"`
	Resumed                 bool     `json:"resumed,omitempty"`
	ViewDuration            *int64   `json:"viewDuration,omitempty"`
}

// Broadcaster pushes state changes to an event's realtime connections.
// Implementations must not block.
type Broadcaster interface {
	BroadcastViewerCount(eventID string, count int)
	BroadcastPlayback(eventID string, position float64, deviceID string)
}

// Invitations resolves shared-viewer tokens.
type Invitations interface {
	Resolve(ctx context.Context, token, eventID, userID, email string) (*models.Invitation, error)
	Accept(ctx context.Context, token, userID, email, eventID string) (*models.Invitation, error)
}

// Config holds lifecycle limits.
type Config struct {
	MaxViewSeconds    int64
	DefaultMaxDevices int
	PremiumMaxDevices int
	SessionTimeout    time.Duration
	LedgerIdleWindow  time.Duration
	LockStripes       int
	// SharedLedgers disables reconciling device counts against this
	// instance's sessions.
	SharedLedgers bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxViewSeconds:    900,
		DefaultMaxDevices: 1,
		PremiumMaxDevices: 3,
		SessionTimeout:    60 * time.Second,
		LedgerIdleWindow:  24 * time.Hour,
		LockStripes:       DefaultLockStripes,
	}
}

// Deps are the collaborators of the Service. Invitations, Broadcaster and
// Audit may be nil.
type Deps struct {
	Sessions    store.SessionStore
	Ledgers     store.LedgerStore
	Lookup      entitlement.Lookup
	Invitations Invitations
	Tracker     *playback.Tracker
	Broadcaster Broadcaster
	Audit       *audit.Logger
}

// Service is the session lifecycle service.
type Service struct {
	cfg         Config
	sessions    store.SessionStore
	ledgers     store.LedgerStore
	lookup      entitlement.Lookup
	invitations Invitations
	tracker     *playback.Tracker
	broadcaster Broadcaster
	audit       *audit.Logger
	locks       *stripedLocks
	now         func() time.Time
}

// NewService creates the lifecycle service.
func NewService(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.MaxViewSeconds <= 0 {
		cfg.MaxViewSeconds = def.MaxViewSeconds
	}
	if cfg.DefaultMaxDevices <= 0 {
		cfg.DefaultMaxDevices = def.DefaultMaxDevices
	}
	if cfg.PremiumMaxDevices <= 0 {
		cfg.PremiumMaxDevices = def.PremiumMaxDevices
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.LedgerIdleWindow <= 0 {
		cfg.LedgerIdleWindow = def.LedgerIdleWindow
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = playback.NewTracker()
	}
	return &Service{
		cfg:         cfg,
		sessions:    deps.Sessions,
		ledgers:     deps.Ledgers,
		lookup:      deps.Lookup,
		invitations: deps.Invitations,
		tracker:     tracker,
		broadcaster: deps.Broadcaster,
		audit:       deps.Audit,
		locks:       newStripedLocks(cfg.LockStripes),
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SetBroadcaster attaches the realtime hub. The hub depends on the service
// for viewer counts, so it is wired after construction.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Tracker returns the playback tracker shared with the realtime hub.
func (s *Service) Tracker() *playback.Tracker {
	return s.tracker
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// ApplyAction validates req and dispatches it.
func (s *Service) ApplyAction(ctx context.Context, req Request) (*Snapshot, error) {
	started := time.Now()
	snap, err := s.apply(ctx, req)
	metrics.RecordSessionAction(string(req.Action), outcomeLabel(err), time.Since(started))
	return snap, err
}

func (s *Service) apply(ctx context.Context, req Request) (*Snapshot, error) {
	if req.UserID == "" || req.EventID == "" || req.DeviceID == "" {
		return nil, fmt.Errorf("%w: userId, eventId and deviceId are required", models.ErrValidation)
	}
	if ct := req.CurrentTime; ct != nil && (math.IsNaN(*ct) || math.IsInf(*ct, 0) || *ct < 0) {
		return nil, fmt.Errorf("%w: currentTime must be a non-negative number", models.ErrValidation)
	}
	switch req.Action {
	case ActionStart:
		return s.Start(ctx, req)
	case ActionHeartbeat:
		return s.Heartbeat(ctx, req)
	case ActionEnd:
		return s.End(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, req.Action)
	}
}

func (r *Request) key() models.SessionKey {
	return models.SessionKey{DeviceID: r.DeviceID, UserID: r.UserID, EventID: r.EventID}
}

// maxLedgerCASAttempts bounds retries of a ledger compare-and-swap.
const maxLedgerCASAttempts = 3

// errLedgerMissing tells mutateLedger's caller that the ledger does not
// exist and no template was supplied.
var errLedgerMissing = errors.New("ledger missing")

// mutateLedger applies fn to the current ledger and stores the result with
// compare-and-swap. fresh builds the ledger when none is stored; nil means
// the ledger must already exist. fn may run more than once.
func (s *Service) mutateLedger(ctx context.Context, key models.LedgerKey, fresh func() *models.ViewLimitLedger, fn func(l *models.ViewLimitLedger) error) (*models.ViewLimitLedger, error) {
	for attempt := 0; attempt < maxLedgerCASAttempts; attempt++ {
		cur, err := s.ledgers.GetLedger(ctx, key)
		switch {
		case errors.Is(err, store.ErrLedgerNotFound):
			if fresh == nil {
				return nil, errLedgerMissing
			}
			cur = fresh()
		case err != nil:
			return nil, err
		}

		expected := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		stored, err := s.ledgers.CompareAndSwapLedger(ctx, expected, cur)
		if errors.Is(err, store.ErrVersionMismatch) {
			metrics.LedgerCASConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, fmt.Errorf("%w: ledger %s changed concurrently", models.ErrConflict, key)
}

// releaseSession removes sess from its ledger: charges unmetered time,
// frees the device slot and the roster entry.
func (s *Service) releaseSession(ctx context.Context, sess *models.ViewingSession, now time.Time) (*models.ViewLimitLedger, int64, error) {
	elapsed := models.ElapsedSeconds(sess.LastActiveAt, now)
	ledger, err := s.mutateLedger(ctx, sess.LedgerKey(), nil, func(l *models.ViewLimitLedger) error {
		l.Charge(elapsed)
		l.ReleaseDevice()
		if sess.IsSharedViewer {
			l.RemoveViewer(sess.ViewerEmail)
		}
		l.LastUpdatedAt = now
		return nil
	})
	if errors.Is(err, errLedgerMissing) {
		logging.Ctx(ctx).Warn().Str("session", sess.Key.String()).Msg("Session has no ledger, removing without charge")
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if !ledger.IsPremium {
		chargedSeconds(elapsed)
	}
	return ledger, elapsed, nil
}

func chargedSeconds(n int64) {
	if n > 0 {
		metrics.ViewSecondsCharged.Add(float64(n))
	}
}

// afterRemoval publishes the new viewer count and drops the event's
// playback state once no session remains.
func (s *Service) afterRemoval(ctx context.Context, eventID string) {
	remaining, err := s.sessions.ListEventSessions(ctx, eventID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("Failed to list event sessions")
		return
	}
	if len(remaining) == 0 {
		s.tracker.Discard(eventID)
	}
	s.broadcastViewerCount(eventID, store.DistinctUsers(remaining))
}

func (s *Service) broadcastViewerCount(eventID string, count int) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastViewerCount(eventID, count)
	}
}

// ViewerCount returns the number of distinct users with a live session.
func (s *Service) ViewerCount(ctx context.Context, eventID string) (int, error) {
	sessions, err := s.sessions.ListEventSessions(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return store.DistinctUsers(sessions), nil
}

func (s *Service) snapshot(ctx context.Context, eventID string, ledger *models.ViewLimitLedger, sess *models.ViewingSession) *Snapshot {
	snap := &Snapshot{ActiveViewerEmails: []string{}}
	if ledger != nil {
		snap.RemainingSeconds = ledger.RemainingSeconds()
		snap.Unlimited = ledger.IsPremium
		snap.TotalViewSeconds = ledger.TotalViewSeconds
		snap.DeviceCount = ledger.DeviceCount
		snap.MaxDevices = ledger.MaxDevices
		snap.IsPremium = ledger.IsPremium
		snap.ActiveViewerEmails = ledger.Viewers()
	}
	if sess != nil {
		snap.IsSharedViewer = sess.IsSharedViewer
		snap.InviterID = sess.InviterID
	}
	if count, err := s.ViewerCount(ctx, eventID); err == nil {
		snap.CurrentViewerCount = count
	}
	snap.PlaybackPositionSeconds = s.tracker.Position(eventID)
	return snap
}

func (s *Service) record(ctx context.Context, typ audit.EventType, outcome audit.Outcome, sess *models.ViewingSession, email, description string, meta map[string]interface{}) {
	s.audit.Record(ctx, typ, outcome, audit.UserActor(sess.Key.UserID, email), sess.Key.EventID, sess.Key.DeviceID, description, meta)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrValidation):
		return "invalid_request"
	case errors.Is(err, models.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, models.ErrDeviceLimitExceeded):
		return "device_limit"
	case errors.Is(err, models.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
