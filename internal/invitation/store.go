// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package invitation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/marquee/internal/models"
)

var (
	// ErrNotFound is returned for unknown invitations.
	ErrNotFound = fmt.Errorf("%w: invitation", models.ErrNotFound)

	// ErrPendingExists is returned when the (inviter, invitee, event) triple
	// already has a usable pending invitation.
	ErrPendingExists = fmt.Errorf("%w: pending invitation already exists", models.ErrConflict)

	// ErrNotPending is returned when a transition finds the invitation no
	// longer pending.
	ErrNotPending = fmt.Errorf("%w: invitation is not pending", models.ErrConflict)
)

// Store persists invitations. Invitations are never deleted.
type Store interface {
	// Insert stores inv unless a usable pending invitation exists for the
	// same triple at now. A stale pending one is marked expired in the same step.
	Insert(ctx context.Context, inv *models.Invitation, now time.Time) error

	// ByTokenHash returns a copy of the invitation or ErrNotFound.
	ByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error)

	// MarkAccepted moves a pending invitation to accepted. It fails with
	// ErrNotPending if another caller got there first.
	MarkAccepted(ctx context.Context, id, inviteeID string, at time.Time) (*models.Invitation, error)

	// ExpirePending marks every pending invitation with expiresAt <= now as
	// expired and returns how many changed.
	ExpirePending(ctx context.Context, now time.Time) (int, error)

	// List returns copies of every invitation, newest first.
	List(ctx context.Context) ([]*models.Invitation, error)
}

// HashToken returns the persisted form of a token.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewToken returns a fresh 256-bit URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tripleKey(inv *models.Invitation) string {
	return inv.InviterID + "|" + models.NormalizeEmail(inv.InviteeEmail) + "|" + inv.EventID
}

func cloneInvitation(inv *models.Invitation) *models.Invitation {
	c := *inv
	c.Token = ""
	if inv.AcceptedAt != nil {
		at := *inv.AcceptedAt
		c.AcceptedAt = &at
	}
	return &c
}
