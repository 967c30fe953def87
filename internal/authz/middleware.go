// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package authz

import (
	"errors"
	"net/http"

	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
)

// ErrorWriter writes an authorization failure response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authorizes requests by path and method.
type Middleware struct {
	enforcer *Enforcer
	onError  ErrorWriter
}

// NewMiddleware creates a new authorization middleware. onError receives
// models.ErrAuth, models.ErrForbidden or an enforcement error.
func NewMiddleware(enforcer *Enforcer, onError ErrorWriter) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			if errors.Is(err, models.ErrForbidden) {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
	return &Middleware{enforcer: enforcer, onError: onError}
}

// AuthorizeRequest checks the caller's roles against the request path and method.
func (m *Middleware) AuthorizeRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		if id == nil {
			m.onError(w, r, models.ErrAuth)
			return
		}

		allowed, err := m.enforcer.EnforceAny(id.Roles, r.URL.Path, r.Method)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
			m.onError(w, r, err)
			return
		}
		if !allowed {
			logging.Ctx(r.Context()).Info().Str("path", r.URL.Path).Strs("roles", id.Roles).
				Msg("Authorization denied")
			m.onError(w, r, models.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
