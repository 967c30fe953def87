// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/marquee/internal/access"
	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/authz"
	"github.com/tomtom215/marquee/internal/invitation"
	"github.com/tomtom215/marquee/internal/middleware"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/viewing"
	"github.com/tomtom215/marquee/internal/websocket"
)

// SessionService is the lifecycle surface used by the handlers.
type SessionService interface {
	ApplyAction(ctx context.Context, req viewing.Request) (*viewing.Snapshot, error)
	EventState(ctx context.Context, eventID string) (*viewing.EventState, error)
	Sessions(ctx context.Context, eventID string) ([]*models.ViewingSession, error)
	Ledgers(ctx context.Context) ([]*models.ViewLimitLedger, error)
}

// InvitationService creates and accepts invitations.
type InvitationService interface {
	Create(ctx context.Context, inviterID, eventID, inviteeEmail string) (*invitation.Created, error)
	Accept(ctx context.Context, token, userID, email, eventID string) (*models.Invitation, error)
}

// AccessChecker decides whether a user may watch an event.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID, email, eventID, token string) (*access.Decision, error)
}

// HealthCheck is one readiness dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds router settings.
type Config struct {
	// DeviceLimitStatus is 403 (default) or 429.
	DeviceLimitStatus int
	MaxBodyBytes      int64
	Middleware        *ChiMiddlewareConfig
}

// Deps are the router's collaborators. Audit and Upgrader may be nil,
// which disables the audit and websocket routes.
type Deps struct {
	Sessions      SessionService
	Invitations   InvitationService
	Access        AccessChecker
	Audit         *audit.Logger
	Upgrader      *websocket.Upgrader
	Authenticator auth.Authenticator
	Enforcer      *authz.Enforcer
	HealthChecks  []HealthCheck
}

// Router builds the HTTP handler tree.
type Router struct {
	cfg       Config
	deps      Deps
	errs      errorMapper
	chi       *ChiMiddleware
	startTime time.Time
}

// NewRouter creates a router.
func NewRouter(cfg Config, deps Deps) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	rt := &Router{
		cfg:       cfg,
		deps:      deps,
		errs:      errorMapper{deviceLimitStatus: cfg.DeviceLimitStatus},
		startTime: time.Now(),
	}
	mwCfg := cfg.Middleware
	if mwCfg == nil {
		mwCfg = DefaultChiMiddlewareConfig()
	}
	if mwCfg.RateLimitOnLimit == nil {
		mwCfg.RateLimitOnLimit = rt.rateLimited
	}
	rt.chi = NewChiMiddleware(mwCfg)
	return rt
}

// Handler returns the configured chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.chi.CORS())
	r.Use(middleware.Metrics)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", rt.HealthLive)
		r.Get("/ready", rt.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	authn := auth.NewMiddleware(rt.deps.Authenticator, func(w http.ResponseWriter, r *http.Request, err error) {
		rt.errs.writeError(w, r, authError(err))
	})
	authzMW := authz.NewMiddleware(rt.deps.Enforcer, rt.errs.writeError)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compression)
		r.Use(authn.Authenticate)
		r.Use(authzMW.AuthorizeRequest)

		r.With(rt.chi.RateLimit()).Post("/session", rt.Session)

		r.Route("/live-stream", func(r chi.Router) {
			r.With(rt.chi.RateLimit()).Post("/invite", rt.Invite)
			r.With(rt.chi.RateLimit()).Post("/invite/accept", rt.AcceptInvite)
			r.Get("/{eventId}/check-access", rt.CheckAccess)
			r.Get("/{eventId}/state", rt.EventState)
			r.Get("/{eventId}/ws", rt.WebSocket)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/sessions", rt.AdminSessions)
			r.Get("/ledgers", rt.AdminLedgers)
			r.Get("/audit", rt.AdminAudit)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errs.writeError(w, r, models.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, &ErrorResponse{
			Error:   "Method not allowed",
			Code:    "METHOD_NOT_ALLOWED",
			Message: r.Method + " is not supported on " + r.URL.Path,
		})
	})

	return r
}

func (rt *Router) rateLimited(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusTooManyRequests, &ErrorResponse{
		Error:     "Too many requests",
		Code:      ErrCodeRateLimited,
		Message:   "rate limit exceeded, retry later",
		RequestID: middleware.GetRequestID(r),
	})
}
