// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
)

// Error codes for API responses
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeDeviceLimitExceeded = "DEVICE_LIMIT_EXCEEDED"
	ErrCodeTooManyDevices      = "TOO_MANY_DEVICES"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeInvitationInvalid   = "INVITATION_INVALID"
	ErrCodeUpstream            = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// errorClass maps a domain error to its status, code and user-facing title.
type errorClass struct {
	target error
	status int
	code   string
	title  string
}

// errorClasses is checked in order; the first match wins.
var errorClasses = []errorClass{
	{models.ErrValidation, http.StatusBadRequest, ErrCodeValidation, "Invalid request"},
	{models.ErrAuth, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required"},
	{models.ErrQuotaExceeded, http.StatusForbidden, ErrCodeQuotaExceeded, "Viewing time limit reached"},
	{models.ErrDeviceLimitExceeded, http.StatusForbidden, ErrCodeDeviceLimitExceeded, "Too many devices"},
	{models.ErrTooManyDevices, http.StatusTooManyRequests, ErrCodeTooManyDevices, "Too many devices to invite"},
	{models.ErrForbidden, http.StatusForbidden, ErrCodeForbidden, "Forbidden"},
	{models.ErrSessionExpired, http.StatusNotFound, ErrCodeSessionExpired, "Session expired"},
	{models.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "Not found"},
	{models.ErrConflict, http.StatusConflict, ErrCodeConflict, "Conflict"},
	{models.ErrInvitationInvalid, http.StatusBadRequest, ErrCodeInvitationInvalid, "Invitation invalid"},
	{models.ErrUpstreamUnavailable, http.StatusInternalServerError, ErrCodeUpstream, "Service temporarily unavailable"},
}

// errorMapper resolves errors to responses. deviceLimitStatus overrides the
// status of ErrDeviceLimitExceeded.
type errorMapper struct {
	deviceLimitStatus int
}

// statusFor returns the HTTP status, code and title for err.
func (m errorMapper) statusFor(err error) (int, string, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			status := c.status
			if c.target == models.ErrDeviceLimitExceeded && m.deviceLimitStatus != 0 {
				status = m.deviceLimitStatus
			}
			return status, c.code, c.title
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
}

// writeError writes err as an ErrorResponse. Unclassified errors are logged
// and their text is not exposed.
func (m errorMapper) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, title := m.statusFor(err)
	message := err.Error()

	l := logging.Ctx(r.Context())
	switch {
	case code == ErrCodeInternal:
		l.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled API error")
		message = "an unexpected error occurred"
	case status >= http.StatusInternalServerError:
		l.Warn().Err(err).Str("path", r.URL.Path).Msg("Upstream failure")
	default:
		l.Debug().Err(err).Str("code", code).Msg("Request rejected")
	}

	respondJSON(w, status, &ErrorResponse{
		Error:     title,
		Code:      code,
		Message:   message,
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}
