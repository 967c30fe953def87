// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package entitlement

import (
	"context"
	"time"

	"github.com/tomtom215/marquee/internal/cache"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/upstream"
)

// Guarded decorates a Lookup with a deadline, a circuit breaker and a TTL
// cache for events and users. Ticket lookups are never cached so a fresh
// purchase grants access immediately.
type Guarded struct {
	next   Lookup
	guard  *upstream.Guard
	events *cache.Cache[*models.Event]
	users  *cache.Cache[*models.User]
}

// NewGuarded wraps next. cacheTTL <= 0 disables caching.
func NewGuarded(next Lookup, guard *upstream.Guard, cacheTTL time.Duration) *Guarded {
	return &Guarded{
		next:   next,
		guard:  guard,
		events: cache.New[*models.Event](cacheTTL, 10000),
		users:  cache.New[*models.User](cacheTTL, 50000),
	}
}

func cached[V any](c *cache.Cache[V], key string) (V, bool) {
	v, ok := c.Get(key)
	if ok {
		metrics.UpstreamCacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.UpstreamCacheHits.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Event implements Lookup.
func (g *Guarded) Event(ctx context.Context, eventID string) (*models.Event, error) {
	if e, ok := cached(g.events, eventID); ok {
		c := *e
		return &c, nil
	}
	e, err := upstream.Do(ctx, g.guard, "event", func(ctx context.Context) (*models.Event, error) {
		return g.next.Event(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	g.events.Set(eventID, e)
	c := *e
	return &c, nil
}

// User implements Lookup.
func (g *Guarded) User(ctx context.Context, userID string) (*models.User, error) {
	if u, ok := cached(g.users, userID); ok {
		return copyUser(u), nil
	}
	u, err := upstream.Do(ctx, g.guard, "user", func(ctx context.Context) (*models.User, error) {
		return g.next.User(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	g.users.Set(userID, u)
	return copyUser(u), nil
}

// UserByEmail implements Lookup.
func (g *Guarded) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return upstream.Do(ctx, g.guard, "user_by_email", func(ctx context.Context) (*models.User, error) {
		return g.next.UserByEmail(ctx, email)
	})
}

// Tickets implements Lookup.
func (g *Guarded) Tickets(ctx context.Context, userID, eventID string) ([]models.Ticket, error) {
	return upstream.Do(ctx, g.guard, "tickets", func(ctx context.Context) ([]models.Ticket, error) {
		return g.next.Tickets(ctx, userID, eventID)
	})
}

var _ Lookup = (*Guarded)(nil)
