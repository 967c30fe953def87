// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package models

import (
	"strings"
	"time"
)

// SessionKey identifies one playback attempt from one device.
type SessionKey struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
	EventID  string `json:"eventId"`
}

// String encodes the key for use as a map or store key.
func (k SessionKey) String() string {
	return k.EventID + "/" + k.UserID + "/" + k.DeviceID
}

// Owner returns the viewer's own (user, event) pair.
func (k SessionKey) Owner() LedgerKey {
	return LedgerKey{UserID: k.UserID, EventID: k.EventID}
}

// ViewingSession is one live viewing session in the session registry.
type ViewingSession struct {
	Key                         SessionKey `json:"key"`
	ViewerEmail                 string     `json:"viewerEmail,omitempty"`
	StartedAt                   time.Time  `json:"startedAt"`
	LastActiveAt                time.Time  `json:"lastActiveAt"`
	AccumulatedViewSeconds      int64      `json:"accumulatedViewSeconds"`
	IsSharedViewer              bool       `json:"isSharedViewer"`
	InviterID                   string     `json:"inviterId,omitempty"`
	LastReportedPlaybackSeconds *float64   `json:"lastReportedPlaybackSeconds,omitempty"`
}

// LedgerKey returns the key of the ledger this session is charged to:
// the inviter for shared viewers, the viewer otherwise.
func (s *ViewingSession) LedgerKey() LedgerKey {
	if s.IsSharedViewer && s.InviterID != "" {
		return LedgerKey{UserID: s.InviterID, EventID: s.Key.EventID}
	}
	return s.Key.Owner()
}

// Clone returns a deep copy.
func (s *ViewingSession) Clone() *ViewingSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastReportedPlaybackSeconds != nil {
		v := *s.LastReportedPlaybackSeconds
		c.LastReportedPlaybackSeconds = &v
	}
	return &c
}

// IdleFor returns how long the session has gone without a heartbeat.
func (s *ViewingSession) IdleFor(now time.Time) time.Duration {
	d := now.Sub(s.LastActiveAt)
	if d < 0 {
		return 0
	}
	return d
}

// ElapsedSeconds returns whole seconds between from and to, floored at zero
// so that clock skew never produces negative view time.
func ElapsedSeconds(from, to time.Time) int64 {
	secs := int64(to.Sub(from) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// NormalizeEmail lowercases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
