// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package invitation lets a premium viewer invite another user to watch an
// event on the inviter's quota.
//
// Tokens are single use. Only their BLAKE2b-256 hash is persisted, so the
// plaintext exists only in the creation response and the notification.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
)

// DefaultTTL is how long an invitation stays usable.
const DefaultTTL = 24 * time.Hour

// Config configures the Service.
type Config struct {
	TTL time.Duration
}

// Service implements invitation creation, validation and acceptance.
type Service struct {
	invitations Store
	lookup      entitlement.Lookup
	sessions    store.SessionStore
	ledgers     store.LedgerStore
	notifier    Notifier
	audit       *audit.Logger
	ttl         time.Duration
	now         func() time.Time
}

// NewService wires the service. notifier and auditLog may be nil.
func NewService(cfg Config, invitations Store, lookup entitlement.Lookup, sessions store.SessionStore, ledgers store.LedgerStore, notifier Notifier, auditLog *audit.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		invitations: invitations,
		lookup:      lookup,
		sessions:    sessions,
		ledgers:     ledgers,
		notifier:    notifier,
		audit:       auditLog,
		ttl:         cfg.TTL,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Created is the result of Create.
type Created struct {
	Invitation *models.Invitation
	// Warning is set when the invitation was stored but could not be delivered.
	Warning string
}

// Create issues an invitation from inviterID to the user registered under
// inviteeEmail for eventID.
func (s *Service) Create(ctx context.Context, inviterID, eventID, inviteeEmail string) (*Created, error) {
	created, err := s.create(ctx, inviterID, eventID, inviteeEmail)
	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.InvitationsTotal.WithLabelValues("create", outcome).Inc()
	return created, err
}

func (s *Service) create(ctx context.Context, inviterID, eventID, inviteeEmail string) (*Created, error) {
	email := models.NormalizeEmail(inviteeEmail)
	if inviterID == "" || eventID == "" || email == "" {
		return nil, fmt.Errorf("%w: inviterId, eventId and email are required", models.ErrValidation)
	}
	now := s.now()

	inviter, err := s.lookup.User(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	if !inviter.Premium(now) {
		return nil, fmt.Errorf("%w: only premium users can invite viewers", models.ErrForbidden)
	}
	if models.NormalizeEmail(inviter.Email) == email {
		return nil, fmt.Errorf("%w: cannot invite yourself", models.ErrValidation)
	}

	if ok, err := s.hasOwnSession(ctx, inviterID, eventID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: no active session for this event", models.ErrNotFound)
	}

	ledger, err := s.ledgers.GetLedger(ctx, models.LedgerKey{UserID: inviterID, EventID: eventID})
	if err != nil {
		return nil, err
	}
	if ledger.DeviceCount >= ledger.MaxDevices {
		return nil, fmt.Errorf("%w: %d of %d devices in use", models.ErrTooManyDevices, ledger.DeviceCount, ledger.MaxDevices)
	}

	invitee, err := s.lookup.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no user with that email", models.ErrNotFound)
		}
		return nil, err
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	inv := &models.Invitation{
		ID:           uuid.NewString(),
		InviterID:    inviterID,
		InviterName:  inviter.Name,
		InviteeID:    invitee.ID,
		InviteeEmail: email,
		EventID:      eventID,
		TokenHash:    HashToken(token),
		Status:       models.InvitationPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.invitations.Insert(ctx, inv, now); err != nil {
		return nil, err
	}
	inv.Token = token

	result := &Created{Invitation: inv}
	if err := s.notifier.Notify(ctx, inv, token); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("invitation_id", inv.ID).Msg("Invitation stored but notification failed")
		result.Warning = "invitation created but the notification could not be delivered"
	}

	s.audit.Record(ctx, audit.EventTypeInvitationCreated, audit.OutcomeSuccess,
		audit.UserActor(inviterID, inviter.Email), eventID, "", "invitation created",
		map[string]interface{}{"invitation_id": inv.ID, "invitee_id": invitee.ID})
	return result, nil
}

func (s *Service) hasOwnSession(ctx context.Context, userID, eventID string) (bool, error) {
	sessions, err := s.sessions.ListEventSessions(ctx, eventID)
	if err != nil {
		return false, err
	}
	for _, sess := range sessions {
		if sess.Key.UserID == userID && !sess.IsSharedViewer {
			return true, nil
		}
	}
	return false, nil
}

// Validate checks token for eventID and email without consuming it.
// Every rejection is models.ErrInvitationInvalid.
func (s *Service) Validate(ctx context.Context, token, eventID, email string) (*models.Invitation, error) {
	return s.check(ctx, token, eventID, "", email)
}

// Resolve is Validate for an identified caller: an invitation userID has
// already accepted keeps granting access until it expires.
func (s *Service) Resolve(ctx context.Context, token, eventID, userID, email string) (*models.Invitation, error) {
	return s.check(ctx, token, eventID, userID, email)
}

func (s *Service) check(ctx context.Context, token, eventID, acceptedBy, email string) (*models.Invitation, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", models.ErrInvitationInvalid)
	}
	inv, err := s.invitations.ByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown token", models.ErrInvitationInvalid)
		}
		return nil, err
	}

	reusable := acceptedBy != "" && inv.Status == models.InvitationAccepted && inv.InviteeID == acceptedBy
	switch {
	case inv.EventID != eventID:
		return nil, fmt.Errorf("%w: token is for a different event", models.ErrInvitationInvalid)
	case inv.Status != models.InvitationPending && !reusable:
		return nil, fmt.Errorf("%w: invitation is %s", models.ErrInvitationInvalid, inv.Status)
	case inv.Expired(s.now()):
		return nil, fmt.Errorf("%w: invitation expired", models.ErrInvitationInvalid)
	case models.NormalizeEmail(inv.InviteeEmail) != models.NormalizeEmail(email):
		return nil, fmt.Errorf("%w: invitation was issued to another email", models.ErrInvitationInvalid)
	}
	return inv, nil
}

// Accept validates token and moves the invitation to accepted. A second
// accept of the same token fails with models.ErrInvitationInvalid.
func (s *Service) Accept(ctx context.Context, token, userID, email, eventID string) (*models.Invitation, error) {
	inv, err := s.accept(ctx, token, userID, email, eventID)
	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.InvitationsTotal.WithLabelValues("accept", outcome).Inc()
	return inv, err
}

func (s *Service) accept(ctx context.Context, token, userID, email, eventID string) (*models.Invitation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrValidation)
	}
	inv, err := s.Validate(ctx, token, eventID, email)
	if err != nil {
		return nil, err
	}
	accepted, err := s.invitations.MarkAccepted(ctx, inv.ID, userID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotPending) || errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invitation already used", models.ErrInvitationInvalid)
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.EventTypeInvitationAccepted, audit.OutcomeSuccess,
		audit.UserActor(userID, email), eventID, "", "invitation accepted",
		map[string]interface{}{"invitation_id": accepted.ID, "inviter_id": accepted.InviterID})
	return accepted, nil
}

// ExpirePending marks stale pending invitations as expired.
func (s *Service) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	n, err := s.invitations.ExpirePending(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ReaperExpired.WithLabelValues("invitation").Add(float64(n))
		s.audit.Record(ctx, audit.EventTypeInvitationExpired, audit.OutcomeSuccess, audit.SystemActor,
			"", "", fmt.Sprintf("%d invitations expired", n), map[string]interface{}{"count": n})
	}
	return n, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "invalid_request"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrTooManyDevices):
		return "too_many_devices"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvitationInvalid):
		return "invalid_token"
	default:
		return "error"
	}
}
