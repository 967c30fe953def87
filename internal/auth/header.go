// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/marquee/internal/models"
)

// Identity headers set by the gateway in header mode.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

// HeaderAuthenticator trusts identity headers. Only deploy it behind a
// gateway that strips these headers from client requests.
type HeaderAuthenticator struct{}

// Authenticate implements Authenticator.
func (HeaderAuthenticator) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return nil, ErrNoCredentials
	}
	return &Identity{
		UserID: userID,
		Email:  models.NormalizeEmail(r.Header.Get(HeaderUserEmail)),
		Roles:  splitRoles(r.Header.Get(HeaderUserRoles)),
	}, nil
}

// Name implements Authenticator.
func (HeaderAuthenticator) Name() string { return string(AuthModeHeader) }

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(strings.ToLower(r)); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleViewer}
	}
	return roles
}
