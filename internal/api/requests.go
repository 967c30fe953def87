// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/validation"
)

// sessionRequest is the body of POST /session.
type sessionRequest struct {
	EventID         string   `json:"eventId" validate:"required,identifier"`
	Action          string   `json:"action" validate:"required,oneof=start heartbeat end"`
	DeviceID        string   `json:"deviceId" validate:"required,identifier"`
	Duration        *int64   `json:"duration,omitempty"`
	InvitationToken string   `json:"invitationToken,omitempty" validate:"omitempty,max=256"`
	CurrentTime     *float64 `json:"currentTime,omitempty" validate:"omitempty,gte=0"`
}

// inviteRequest is the body of POST /live-stream/invite.
type inviteRequest struct {
	EventID string `json:"eventId" validate:"required,identifier"`
	Email   string `json:"email" validate:"required,email,max=254"`
}

// acceptRequest is the body of POST /live-stream/invite/accept.
type acceptRequest struct {
	EventID string `json:"eventId" validate:"required,identifier"`
	Token   string `json:"token" validate:"required,max=256"`
}

// decodeBody decodes a bounded JSON body into dst and validates it.
// Every failure matches models.ErrValidation.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: request body exceeds %d bytes", models.ErrValidation, tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is empty", models.ErrValidation)
		default:
			return fmt.Errorf("%w: malformed JSON: %v", models.ErrValidation, err)
		}
	}
	return validation.Validate(dst)
}
