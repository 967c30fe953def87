// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package entitlement

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/models"
)

// HTTPClient reads entitlement records from the catalog service's REST API:
//
//	GET {base}/events/{id}
//	GET {base}/users/{id}
//	GET {base}/users?email={email}
//	GET {base}/users/{id}/tickets?eventId={eventId}
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client. token, when set, is sent as a bearer token.
// client may be nil to use a default client; deadlines come from the caller's context.
func NewHTTPClient(baseURL, token string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s", models.ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Event implements Lookup.
func (c *HTTPClient) Event(ctx context.Context, eventID string) (*models.Event, error) {
	var e models.Event
	if err := c.get(ctx, "/events/"+url.PathEscape(eventID), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// User implements Lookup.
func (c *HTTPClient) User(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, "/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByEmail implements Lookup.
func (c *HTTPClient) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, "/users", url.Values{"email": {email}}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Tickets implements Lookup.
func (c *HTTPClient) Tickets(ctx context.Context, userID, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	path := "/users/" + url.PathEscape(userID) + "/tickets"
	if err := c.get(ctx, path, url.Values{"eventId": {eventID}}, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

var _ Lookup = (*HTTPClient)(nil)
