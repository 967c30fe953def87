// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package entitlement

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
)

// Directory is an in-memory Lookup for development and tests.
type Directory struct {
	mu      sync.RWMutex
	events  map[string]*models.Event
	users   map[string]*models.User
	byEmail map[string]string
	tickets map[string][]models.Ticket // keyed by userID/eventID
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		events:  make(map[string]*models.Event),
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
		tickets: make(map[string][]models.Ticket),
	}
}

// Seed is the on-disk format accepted by LoadDirectory.
type Seed struct {
	Events  []models.Event  `json:"events"`
	Users   []models.User   `json:"users"`
	Tickets []models.Ticket `json:"tickets"`
}

// LoadDirectory reads a JSON seed file.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entitlement seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse entitlement seed %s: %w", path, err)
	}

	d := NewDirectory()
	for i := range seed.Events {
		d.PutEvent(seed.Events[i])
	}
	for i := range seed.Users {
		d.PutUser(seed.Users[i])
	}
	for _, t := range seed.Tickets {
		d.PutTicket(t)
	}
	return d, nil
}

// PutEvent adds or replaces an event.
func (d *Directory) PutEvent(e models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[e.ID] = &e
}

// PutUser adds or replaces a user.
func (d *Directory) PutUser(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.users[u.ID]; ok {
		delete(d.byEmail, models.NormalizeEmail(old.Email))
	}
	d.users[u.ID] = &u
	d.byEmail[models.NormalizeEmail(u.Email)] = u.ID
}

// PutTicket appends a ticket.
func (d *Directory) PutTicket(t models.Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := t.UserID + "/" + t.EventID
	d.tickets[k] = append(d.tickets[k], t)
}

// Event implements Lookup.
func (d *Directory) Event(_ context.Context, eventID string) (*models.Event, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID)
	}
	c := *e
	return &c, nil
}

// User implements Lookup.
func (d *Directory) User(_ context.Context, userID string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	return copyUser(u), nil
}

// UserByEmail implements Lookup.
func (d *Directory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("%w: user", models.ErrNotFound)
	}
	return copyUser(d.users[id]), nil
}

// Tickets implements Lookup.
func (d *Directory) Tickets(_ context.Context, userID, eventID string) ([]models.Ticket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	src := d.tickets[userID+"/"+eventID]
	out := make([]models.Ticket, len(src))
	copy(out, src)
	return out, nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.Subscription != nil {
		s := *u.Subscription
		c.Subscription = &s
	}
	return &c
}

var _ Lookup = (*Directory)(nil)
