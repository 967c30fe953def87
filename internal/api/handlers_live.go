// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
)

// InviteResponse is the body returned by POST /live-stream/invite.
type InviteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

// AcceptResponse is the body returned by POST /live-stream/invite/accept.
type AcceptResponse struct {
	Success   bool   `json:"success"`
	InviterID string `json:"inviterId"`
}

// eventIDParam reads and bounds the {eventId} path parameter.
func eventIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "eventId")
	if id == "" || len(id) > 128 {
		return "", fmt.Errorf("%w: invalid eventId", models.ErrValidation)
	}
	return id, nil
}

// CheckAccess handles GET /live-stream/{eventId}/check-access.
func (rt *Router) CheckAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.identity(w, r)
	if !ok {
		return
	}
	eventID, err := eventIDParam(r)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	decision, err := rt.deps.Access.CheckAccess(r.Context(), id.UserID, id.Email, eventID, r.URL.Query().Get("invitation"))
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// Invite handles POST /live-stream/invite.
func (rt *Router) Invite(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.identity(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if err := decodeBody(w, r, rt.cfg.MaxBodyBytes, &req); err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	created, err := rt.deps.Invitations.Create(r.Context(), id.UserID, req.EventID, req.Email)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	resp := InviteResponse{
		Success: true,
		Message: "Invitation sent to " + created.Invitation.InviteeEmail,
		Warning: created.Warning,
	}
	if created.Warning != "" {
		resp.Message = "Invitation created for " + created.Invitation.InviteeEmail
		logging.Ctx(r.Context()).Warn().Str("invitation_id", created.Invitation.ID).
			Str("warning", created.Warning).Msg("Invitation stored but not delivered")
	}
	respondJSON(w, http.StatusOK, resp)
}

// AcceptInvite handles POST /live-stream/invite/accept.
func (rt *Router) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.identity(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if err := decodeBody(w, r, rt.cfg.MaxBodyBytes, &req); err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	inv, err := rt.deps.Invitations.Accept(r.Context(), req.Token, id.UserID, id.Email, req.EventID)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AcceptResponse{Success: true, InviterID: inv.InviterID})
}

// EventState handles GET /live-stream/{eventId}/state.
func (rt *Router) EventState(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	state, err := rt.deps.Sessions.EventState(r.Context(), eventID)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// WebSocket handles GET /live-stream/{eventId}/ws.
func (rt *Router) WebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.identity(w, r)
	if !ok {
		return
	}
	eventID, err := eventIDParam(r)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	if rt.deps.Upgrader == nil {
		rt.errs.writeError(w, r, fmt.Errorf("%w: realtime channel disabled", models.ErrNotFound))
		return
	}
	// Serve has already answered the request when the upgrade fails.
	_ = rt.deps.Upgrader.Serve(w, r, eventID, id.UserID)
}
