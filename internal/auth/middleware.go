// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package auth

import (
	"net/http"

	"github.com/tomtom215/marquee/internal/logging"
)

// ErrorWriter writes an authentication failure response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware enforces authentication on wrapped handlers.
type Middleware struct {
	authenticator Authenticator
	onError       ErrorWriter
}

// NewMiddleware creates the middleware. onError may be nil for a plain 401.
func NewMiddleware(authenticator Authenticator, onError ErrorWriter) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return &Middleware{authenticator: authenticator, onError: onError}
}

// Authenticate is middleware that enforces authentication. The identity's
// user ID is added to the request's logger.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Str("authenticator", m.authenticator.Name()).
				Msg("Authentication failed")
			m.onError(w, r, err)
			return
		}

		ctx := WithIdentity(r.Context(), id)
		ctx = logging.ContextWithLogger(ctx, logging.LoggerFromContext(ctx).With().Str("user_id", id.UserID).Logger())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
