// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package auth resolves the caller's identity for every API request.

Two modes are supported:

  - header: a trusted gateway in front of the service has already
    authenticated the caller and forwards X-User-Id, X-User-Email and
    X-User-Roles.
  - jwt: the caller presents an HS256 bearer token (Authorization header or
    the "token" cookie) whose subject is the user ID.

Middleware stores the resolved Identity in the request context. Handlers read
it with IdentityFromContext; a request without one never reaches them.
*/
package auth
