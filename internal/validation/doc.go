// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared process-wide. Field names in error
// messages use the struct's json tag so they match what API clients send:
//
//	type sessionRequest struct {
//	    EventID  string `json:"eventId" validate:"required,identifier"`
//	    DeviceID string `json:"deviceId" validate:"required,identifier"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    // errors.Is(verr, models.ErrValidation) == true
//	    // verr.Error() == "eventId is required"
//	}
//
// Custom tags:
//   - identifier: non-blank, at most 128 bytes, no whitespace or control characters
package validation
