// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package models

import (
	"sort"
	"time"
)

// UnlimitedSeconds is reported as remaining time for premium ledgers.
const UnlimitedSeconds int64 = 1<<31 - 1

// LedgerKey identifies a view-limit ledger: the effective user and the event.
type LedgerKey struct {
	UserID  string `json:"userId"`
	EventID string `json:"eventId"`
}

// String encodes the key for use as a map or store key.
func (k LedgerKey) String() string {
	return k.EventID + "/" + k.UserID
}

// ViewLimitLedger holds cumulative quota state for one effective user and event.
//
// Version is owned by the store and increases on every successful
// compare-and-swap. A zero Version means the ledger has never been stored.
type ViewLimitLedger struct {
	Key                LedgerKey       `json:"key"`
	TotalViewSeconds   int64           `json:"totalViewSeconds"`
	DeviceCount        int             `json:"deviceCount"`
	MaxViewSeconds     int64           `json:"maxViewSeconds"`
	IsPremium          bool            `json:"isPremium"`
	MaxDevices         int             `json:"maxDevices"`
	ActiveViewerEmails map[string]bool `json:"activeViewerEmails"`
	CreatedAt          time.Time       `json:"createdAt"`
	LastUpdatedAt      time.Time       `json:"lastUpdatedAt"`
	Version            uint64          `json:"version"`
}

// Clone returns a deep copy.
func (l *ViewLimitLedger) Clone() *ViewLimitLedger {
	if l == nil {
		return nil
	}
	c := *l
	c.ActiveViewerEmails = make(map[string]bool, len(l.ActiveViewerEmails))
	for e := range l.ActiveViewerEmails {
		c.ActiveViewerEmails[e] = true
	}
	return &c
}

// QuotaExhausted reports whether a non-premium ledger has used its allowance.
func (l *ViewLimitLedger) QuotaExhausted() bool {
	return !l.IsPremium && l.TotalViewSeconds >= l.MaxViewSeconds
}

// RemainingSeconds returns the unused allowance, or UnlimitedSeconds for premium.
func (l *ViewLimitLedger) RemainingSeconds() int64 {
	if l.IsPremium {
		return UnlimitedSeconds
	}
	if r := l.MaxViewSeconds - l.TotalViewSeconds; r > 0 {
		return r
	}
	return 0
}

// Charge adds metered seconds to a non-premium ledger. Premium ledgers are not metered.
func (l *ViewLimitLedger) Charge(seconds int64) {
	if l.IsPremium || seconds <= 0 {
		return
	}
	l.TotalViewSeconds += seconds
}

// ReleaseDevice decrements DeviceCount, never below zero.
func (l *ViewLimitLedger) ReleaseDevice() {
	if l.DeviceCount > 0 {
		l.DeviceCount--
	}
}

// AddViewer adds an email to the shared-viewing roster.
func (l *ViewLimitLedger) AddViewer(email string) {
	if email == "" {
		return
	}
	if l.ActiveViewerEmails == nil {
		l.ActiveViewerEmails = make(map[string]bool)
	}
	l.ActiveViewerEmails[NormalizeEmail(email)] = true
}

// RemoveViewer removes an email from the shared-viewing roster.
func (l *ViewLimitLedger) RemoveViewer(email string) {
	delete(l.ActiveViewerEmails, NormalizeEmail(email))
}

// Viewers returns the roster sorted for stable output.
func (l *ViewLimitLedger) Viewers() []string {
	out := make([]string, 0, len(l.ActiveViewerEmails))
	for e := range l.ActiveViewerEmails {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
