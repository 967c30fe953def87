// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package models defines the data structures shared across Marquee.

Key Components:

  - ViewingSession: one device watching one event, keyed by (device, user, event)
  - ViewLimitLedger: the per-(user, event) allowance of metered seconds and
    concurrent devices, shared by an inviter's guests
  - Invitation: a premium viewer's single-use offer to share their ledger
  - Event, User, Ticket: entitlement records read from the catalog

Errors:

The sentinel errors in errors.go (ErrValidation, ErrQuotaExceeded,
ErrDeviceLimitExceeded, ...) form the error taxonomy the API maps to
HTTP statuses. Wrap them with fmt.Errorf("%w: ...") and test with errors.Is.

Thread Safety:

Models are plain values. Stores hand out clones; callers may mutate what
they receive without affecting stored state.
*/
package models
