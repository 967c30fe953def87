// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package access decides whether a user may watch an event.
//
// The checks run in a fixed order and the first one that grants wins:
// the event's creator, an active ticket, then a usable invitation. A denied
// decision still carries the event's public metadata so the client can
// render a purchase page.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/viewing"
)

// Reason names the check that produced a decision.
type Reason string

const (
	ReasonCreator    Reason = "creator"
	ReasonTicket     Reason = "ticket"
	ReasonInvitation Reason = "invitation"
	ReasonDenied     Reason = "denied"
)

// TicketSummary describes the active tickets that granted access.
type TicketSummary struct {
	Count         int      `json:"count"`
	TotalQuantity int      `json:"totalQuantity"`
	TicketIDs     []string `json:"ticketIds"`
}

// Decision is the result of CheckAccess.
type Decision struct {
	HasAccess               bool                `json:"hasAccess"`
	Reason                  Reason              `json:"reason"`
	IsCreator               bool                `json:"isCreator"`
	IsSharedViewer          bool                `json:"isSharedViewer"`
	InviterID               string              `json:"inviterId,omitempty"`
	Tickets                 *TicketSummary      `json:"tickets,omitempty"`
	Event                   models.EventSummary `json:"event"`
	CurrentViewerCount      int                 `json:"currentViewerCount"`
	PlaybackPositionSeconds float64             `json:"playbackPositionSeconds"`
}

// Invitations is the read-only token check.
type Invitations interface {
	Resolve(ctx context.Context, token, eventID, userID, email string) (*models.Invitation, error)
}

// LiveState reports an event's current viewer count and position.
type LiveState interface {
	EventState(ctx context.Context, eventID string) (*viewing.EventState, error)
}

// Checker evaluates access decisions.
type Checker struct {
	lookup      entitlement.Lookup
	invitations Invitations
	live        LiveState
	audit       *audit.Logger
}

// NewChecker creates a checker. invitations, live and auditLog may be nil.
func NewChecker(lookup entitlement.Lookup, invitations Invitations, live LiveState, auditLog *audit.Logger) *Checker {
	return &Checker{
		lookup:      lookup,
		invitations: invitations,
		live:        live,
		audit:       auditLog,
	}
}

// CheckAccess decides whether userID may watch eventID. email is the
// caller's address from their identity; when empty it is looked up for
// the invitation check. token is an optional invitation token.
func (c *Checker) CheckAccess(ctx context.Context, userID, email, eventID, token string) (*Decision, error) {
	if userID == "" || eventID == "" {
		return nil, fmt.Errorf("%w: userId and eventId are required", models.ErrValidation)
	}
	event, err := c.lookup.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	d, err := c.decide(ctx, event, userID, email, token)
	if err != nil {
		return nil, err
	}
	d.Event = event.Summary()
	c.attachLiveState(ctx, d, eventID)

	metrics.AccessChecks.WithLabelValues(string(d.Reason)).Inc()
	outcome := audit.OutcomeSuccess
	if !d.HasAccess {
		outcome = audit.OutcomeFailure
	}
	c.audit.Record(ctx, audit.EventTypeAccessChecked, outcome, audit.UserActor(userID, email), eventID, "",
		"", map[string]interface{}{"reason": d.Reason, "shared": d.IsSharedViewer})
	return d, nil
}

func (c *Checker) decide(ctx context.Context, event *models.Event, userID, email, token string) (*Decision, error) {
	if event.CreatorID != "" && event.CreatorID == userID {
		return &Decision{HasAccess: true, Reason: ReasonCreator, IsCreator: true}, nil
	}

	tickets, err := c.lookup.Tickets(ctx, userID, event.ID)
	if err != nil {
		return nil, err
	}
	if active, total := entitlement.ActiveTickets(tickets); len(active) > 0 {
		summary := &TicketSummary{Count: len(active), TotalQuantity: total}
		for _, t := range active {
			summary.TicketIDs = append(summary.TicketIDs, t.ID)
		}
		return &Decision{HasAccess: true, Reason: ReasonTicket, Tickets: summary}, nil
	}

	if token != "" && c.invitations != nil {
		inv, err := c.validateInvitation(ctx, userID, email, event.ID, token)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			return &Decision{HasAccess: true, Reason: ReasonInvitation, IsSharedViewer: true, InviterID: inv.InviterID}, nil
		}
	}

	return &Decision{Reason: ReasonDenied}, nil
}

// validateInvitation returns nil without error when the token does not grant access.
func (c *Checker) validateInvitation(ctx context.Context, userID, email, eventID, token string) (*models.Invitation, error) {
	if email == "" {
		u, err := c.lookup.User(ctx, userID)
		if err != nil {
			return nil, err
		}
		email = u.Email
	}
	inv, err := c.invitations.Resolve(ctx, token, eventID, userID, email)
	if errors.Is(err, models.ErrInvitationInvalid) {
		logging.Ctx(ctx).Debug().Err(err).Str("event_id", eventID).Msg("Invitation does not grant access")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if inv.InviterID == userID {
		return nil, nil
	}
	return inv, nil
}

func (c *Checker) attachLiveState(ctx context.Context, d *Decision, eventID string) {
	if c.live == nil {
		return
	}
	state, err := c.live.EventState(ctx, eventID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("Failed to read live state")
		return
	}
	d.CurrentViewerCount = state.CurrentViewerCount
	d.PlaybackPositionSeconds = state.PlaybackPositionSeconds
}
