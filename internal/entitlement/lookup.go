// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package entitlement answers read-only questions about events, users,
// subscriptions and tickets. The records are owned by other services; this
// package never mutates them.
package entitlement

import (
	"context"

	"github.com/tomtom215/marquee/internal/models"
)

// Lookup is the read-only view of the catalog and account services.
// Unknown records are reported as models.ErrNotFound.
type Lookup interface {
	Event(ctx context.Context, eventID string) (*models.Event, error)
	User(ctx context.Context, userID string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	Tickets(ctx context.Context, userID, eventID string) ([]models.Ticket, error)
}

// ActiveTickets filters tickets to those that confer access and sums their quantity.
func ActiveTickets(tickets []models.Ticket) ([]models.Ticket, int) {
	var active []models.Ticket
	total := 0
	for _, t := range tickets {
		if t.Status != models.TicketActive {
			continue
		}
		active = append(active, t)
		q := t.Quantity
		if q < 1 {
			q = 1
		}
		total += q
	}
	return active, total
}
