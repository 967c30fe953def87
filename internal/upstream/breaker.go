// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package upstream wraps calls to external collaborators (entitlement
// catalog, invitation notifier) with a deadline and a circuit breaker, and
// maps every transport failure to models.ErrUpstreamUnavailable.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/models"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// MinRequests before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
}

// DefaultBreakerConfig returns conservative defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     time.Minute,
		OpenTimeout:  30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Guard applies a per-call deadline and a circuit breaker to upstream calls.
type Guard struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
}

// NewGuard creates a Guard for the named upstream.
func NewGuard(name string, timeout time.Duration, cfg BreakerConfig) *Guard {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		// Domain answers such as "not found" are successful round trips.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransportError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Guard{name: name, timeout: timeout, cb: cb}
}

// Name returns the upstream name.
func (g *Guard) Name() string {
	return g.name
}

// State returns the breaker state as a string.
func (g *Guard) State() string {
	return g.cb.State().String()
}

// Do runs fn under the guard's deadline and breaker. Domain errors
// (models.ErrNotFound and friends) pass through untouched; everything else
// becomes models.ErrUpstreamUnavailable.
func Do[T any](ctx context.Context, g *Guard, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	result, err := g.cb.Execute(func() (any, error) {
		return fn(callCtx)
	})
	metrics.RecordUpstream(g.name, operation, err)

	if err != nil {
		if !isTransportError(err) {
			return zero, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Str("upstream", g.name).Str("operation", operation).Msg("Upstream call rejected by circuit breaker")
		}
		return zero, fmt.Errorf("%w: %s %s: %v", models.ErrUpstreamUnavailable, g.name, operation, err)
	}

	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("%w: %s %s: unexpected result type %T", models.ErrUpstreamUnavailable, g.name, operation, result)
	}
	return typed, nil
}

// isTransportError reports whether err is a failure of the collaborator
// rather than a domain answer from it.
func isTransportError(err error) bool {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrInvitationInvalid):
		return false
	}
	return true
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
