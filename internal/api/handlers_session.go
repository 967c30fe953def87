// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/viewing"
)

// authError maps authenticator failures onto models.ErrAuth.
func authError(err error) error {
	if errors.Is(err, models.ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrAuth, err)
}

// identity returns the authenticated caller or writes a 401.
func (rt *Router) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil || id.UserID == "" {
		rt.errs.writeError(w, r, models.ErrAuth)
		return nil, false
	}
	return id, true
}

// Session handles POST /api/v1/session.
func (rt *Router) Session(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.identity(w, r)
	if !ok {
		return
	}

	var req sessionRequest
	if err := decodeBody(w, r, rt.cfg.MaxBodyBytes, &req); err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	snap, err := rt.deps.Sessions.ApplyAction(r.Context(), viewing.Request{
		UserID:          id.UserID,
		Email:           id.Email,
		EventID:         req.EventID,
		DeviceID:        req.DeviceID,
		Action:          viewing.Action(req.Action),
		Duration:        req.Duration,
		InvitationToken: req.InvitationToken,
		CurrentTime:     req.CurrentTime,
	})
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
