// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package audit records viewing-session and invitation activity for
// support and abuse investigation.
//
// Events are written asynchronously through a bounded buffer. A full buffer
// drops the event with a warning; audit failures never fail the request that
// produced them.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Session lifecycle
	EventTypeSessionStarted       EventType = "session.started"
	EventTypeSessionResumed       EventType = "session.resumed"
	EventTypeSessionEnded         EventType = "session.ended"
	EventTypeSessionExpired       EventType = "session.expired"
	EventTypeSessionQuotaExceeded EventType = "session.quota_exceeded"
	EventTypeSessionDeviceLimit   EventType = "session.device_limit"

	// Ledgers
	EventTypeLedgerReconciled EventType = "ledger.reconciled"

	// Access checks
	EventTypeAccessChecked EventType = "access.checked"

	// Invitations
	EventTypeInvitationCreated  EventType = "invitation.created"
	EventTypeInvitationAccepted EventType = "invitation.accepted"
	EventTypeInvitationExpired  EventType = "invitation.expired"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var severityOrder = map[Severity]int{
	SeverityDebug:   0,
	SeverityInfo:    1,
	SeverityWarning: 2,
	SeverityError:   3,
}

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor is the user (or "system" for the reaper) who caused the event.
	Actor Actor `json:"actor"`

	// EventID is the live event the record concerns.
	EventID  string `json:"eventId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`

	Action      string          `json:"action"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
}

// Actor represents who performed an action.
type Actor struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
}

// SystemActor is the actor recorded for background work.
var SystemActor = Actor{ID: "reaper", Type: "system"}

// UserActor builds an actor for an end user.
func UserActor(userID, email string) Actor {
	return Actor{ID: userID, Type: "user", Email: email}
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the given time.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Types     []EventType `json:"types,omitempty"`
	Outcomes  []Outcome   `json:"outcomes,omitempty"`
	ActorID   string      `json:"actorId,omitempty"`
	EventID   string      `json:"eventId,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	StartTime *time.Time  `json:"startTime,omitempty"`
	EndTime   *time.Time  `json:"endTime,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// DefaultQueryFilter returns a filter for the 100 newest events.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}

// Matches reports whether the event satisfies every set field of the filter.
// Limit and Offset are ignored.
func (f *QueryFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.Outcomes) > 0 && !contains(f.Outcomes, e.Outcome) {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.EventID != "" && e.EventID != f.EventID {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
