// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package models

import "time"

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is an offer from a premium inviter to a named invitee for one event.
//
// Token is only populated on the value returned from creation; stores persist
// TokenHash and never the token itself.
type Invitation struct {
	ID           string           `json:"id"`
	InviterID    string           `json:"inviterId"`
	InviterName  string           `json:"inviterName"`
	InviteeID    string           `json:"inviteeId"`
	InviteeEmail string           `json:"inviteeEmail"`
	EventID      string           `json:"eventId"`
	Token        string           `json:"-"`
	TokenHash    string           `json:"tokenHash"`
	Status       InvitationStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	AcceptedAt   *time.Time       `json:"acceptedAt,omitempty"`
}

// Expired reports whether the invitation is past its expiry at now.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Usable reports whether the token may still be accepted at now.
func (i *Invitation) Usable(now time.Time) bool {
	return i.Status == InvitationPending && !i.Expired(now)
}
