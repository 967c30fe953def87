// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/marquee/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testSecret = "this_is_a_very_long_secret_key_for_testing_purposes_12345"

func TestParseAuthMode(t *testing.T) {
	tests := []struct {
		in      string
		want    AuthMode
		wantErr bool
	}{
		{"", AuthModeHeader, false},
		{"header", AuthModeHeader, false},
		{"jwt", AuthModeJWT, false},
		{"oidc", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAuthMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAuthMode(%q) = %q, %v, want %q (err %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short", time.Hour, ""); err == nil {
		t.Error("NewJWTManager() with a short secret should fail")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour, "marquee")
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.GenerateToken("u1", "a@example.com", []string{RoleAdmin})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@example.com" || len(claims.Roles) != 1 {
		t.Errorf("claims = %+v", claims)
	}

	other, _ := NewJWTManager(testSecret, time.Hour, "someone-else")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token accepted with the wrong issuer")
	}
}

func TestValidateToken_RejectsNoneAndExpired(t *testing.T) {
	m, _ := NewJWTManager(testSecret, time.Hour, "")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(raw); err == nil {
		t.Error("alg=none token accepted")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, _ = expired.SignedString([]byte(testSecret))
	a := NewJWTAuthenticator(m)
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set("Authorization", "Bearer "+raw)
	if _, err := a.Authenticate(context.Background(), r); !errors.Is(err, ErrExpiredCredentials) {
		t.Errorf("Authenticate(expired) error = %v, want ErrExpiredCredentials", err)
	}
}

func TestJWTAuthenticator_HeaderAndCookie(t *testing.T) {
	m, _ := NewJWTManager(testSecret, time.Hour, "")
	token, _ := m.GenerateToken("u1", "A@Example.com", nil)
	a := NewJWTAuthenticator(m)

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.AddCookie(&http.Cookie{Name: "token", Value: token})
	id, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate(cookie) error = %v", err)
	}
	if id.UserID != "u1" || id.Email != "a@example.com" || id.PrimaryRole() != RoleViewer {
		t.Errorf("identity = %+v", id)
	}

	r = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if _, err := a.Authenticate(context.Background(), r); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Authenticate(no token) error = %v, want ErrNoCredentials", err)
	}
	r.Header.Set("Authorization", "Bearer garbage")
	if _, err := a.Authenticate(context.Background(), r); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(garbage) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set(HeaderUserID, "u1")
	r.Header.Set(HeaderUserEmail, " Host@Example.com ")
	r.Header.Set(HeaderUserRoles, "Viewer, admin")

	id, err := HeaderAuthenticator{}.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u1" || id.Email != "host@example.com" || !id.HasRole(RoleAdmin) {
		t.Errorf("identity = %+v", id)
	}
	if id.PrimaryRole() != RoleAdmin {
		t.Errorf("PrimaryRole() = %s, want admin", id.PrimaryRole())
	}

	r.Header.Del(HeaderUserID)
	if _, err := (HeaderAuthenticator{}).Authenticate(context.Background(), r); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("missing header error = %v, want ErrNoCredentials", err)
	}
}

func TestMiddleware(t *testing.T) {
	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(HeaderAuthenticator{}, nil).Authenticate(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusUnauthorized || seen != nil {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set(HeaderUserID, "u1")
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent || seen == nil || seen.UserID != "u1" {
		t.Errorf("authenticated status = %d, identity %+v", rec.Code, seen)
	}
}
