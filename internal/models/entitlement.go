// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package models

import "time"

// Event is a live event as published by the catalog service.
type Event struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	CreatorID      string    `json:"creatorId"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	Price          float64   `json:"price"`
	Currency       string    `json:"currency,omitempty"`
	AllowedViewers int       `json:"allowedViewers"`
	Status         string    `json:"status,omitempty"`
}

// EventSummary is the public metadata returned even when access is denied.
type EventSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
}

// Summary returns the event's public metadata.
func (e *Event) Summary() EventSummary {
	return EventSummary{
		ID:          e.ID,
		Title:       e.Title,
		ScheduledAt: e.ScheduledAt,
		Price:       e.Price,
		Currency:    e.Currency,
	}
}

// Subscription status values.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Subscription is the user's paid plan, if any.
type Subscription struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// User is an account record owned by the identity service.
type User struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Name         string        `json:"name"`
	IsPremium    bool          `json:"isPremium"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Premium reports whether the user is flagged premium or holds an active,
// unexpired subscription at now.
func (u *User) Premium(now time.Time) bool {
	if u == nil {
		return false
	}
	if u.IsPremium {
		return true
	}
	s := u.Subscription
	if s == nil || s.Status != SubscriptionActive {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}

// TicketActive is the only ticket status that confers access.
const TicketActive = "active"

// Ticket is created by the purchase flow and grants base access to an event.
type Ticket struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	EventID  string `json:"eventId"`
	Status   string `json:"status"`
	Quantity int    `json:"quantity"`
}
