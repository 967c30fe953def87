// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package invitation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/upstream"
)

// Notifier delivers a freshly created invitation to its invitee. token is
// the plaintext token; it exists only for the duration of this call.
type Notifier interface {
	Notify(ctx context.Context, inv *models.Invitation, token string) error
}

// LogNotifier writes the invitation to the application log. It is meant
// for development, where no mail relay exists.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, inv *models.Invitation, token string) error {
	logging.Ctx(ctx).Info().
		Str("invitation_id", inv.ID).
		Str("event_id", inv.EventID).
		Str("invitee_email", inv.InviteeEmail).
		Str("token", token).
		Msg("Invitation created")
	return nil
}

// WebhookPayload is the body posted by WebhookNotifier.
type WebhookPayload struct {
	InvitationID string    `json:"invitationId"`
	EventID      string    `json:"eventId"`
	InviterID    string    `json:"inviterId"`
	InviterName  string    `json:"inviterName"`
	InviteeEmail string    `json:"inviteeEmail"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// WebhookNotifier POSTs invitations to a delivery service.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	guard  *upstream.Guard
}

// NewWebhookNotifier creates a webhook notifier. secret, when set, is sent
// in the X-Marquee-Secret header.
func NewWebhookNotifier(url, secret string, guard *upstream.Guard, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookNotifier{url: url, secret: secret, client: client, guard: guard}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, inv *models.Invitation, token string) error {
	body, err := json.Marshal(WebhookPayload{
		InvitationID: inv.ID,
		EventID:      inv.EventID,
		InviterID:    inv.InviterID,
		InviterName:  inv.InviterName,
		InviteeEmail: inv.InviteeEmail,
		Token:        token,
		ExpiresAt:    inv.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = upstream.Do(ctx, w.guard, "notify", func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if w.secret != "" {
			req.Header.Set("X-Marquee-Secret", w.secret)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}

var (
	_ Notifier = LogNotifier{}
	_ Notifier = (*WebhookNotifier)(nil)
)
