// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package models

import "errors"

// Domain errors shared by the session, invitation and access packages.
// Callers wrap them with fmt.Errorf("%w: detail", ErrX) and classify with errors.Is.
var (
	// ErrValidation indicates bad input. Not retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuth indicates a missing or invalid caller identity.
	ErrAuth = errors.New("authentication required")

	// ErrForbidden indicates the caller lacks the entitlement for the action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates an unknown event, user or session.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation (duplicate pending invitation)
	// or a lost compare-and-swap race.
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded is terminal for the session: the viewing-time limit is reached.
	ErrQuotaExceeded = errors.New("viewing time limit reached")

	// ErrDeviceLimitExceeded is terminal: too many devices are already watching.
	ErrDeviceLimitExceeded = errors.New("too many devices")

	// ErrTooManyDevices rejects an invitation when the inviter's own ledger is full.
	ErrTooManyDevices = errors.New("too many devices to invite")

	// ErrSessionExpired tells the client to call start again.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvitationInvalid covers expired, consumed or mismatched tokens.
	ErrInvitationInvalid = errors.New("invitation invalid")

	// ErrUpstreamUnavailable indicates an entitlement, invitation or notification
	// collaborator failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
