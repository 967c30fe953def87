// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package metrics exposes Prometheus instrumentation for sessions, quota
// enforcement, invitations, the fan-out channel, the reaper, upstream
// collaborators and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle

	SessionActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_session_actions_total",
			Help: "Session lifecycle actions by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: ok, resumed, quota_exceeded, device_limit, expired, invalid, upstream, error
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquee_active_sessions",
			Help: "Current number of live viewing sessions",
		},
	)

	ActiveLedgers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquee_active_ledgers",
			Help: "Current number of view-limit ledgers held",
		},
	)

	ViewSecondsCharged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquee_view_seconds_charged_total",
			Help: "Metered viewing seconds charged to non-premium ledgers",
		},
	)

	SessionActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marquee_session_action_duration_seconds",
			Help:    "Latency of session lifecycle actions",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 3},
		},
		[]string{"action"},
	)

	LedgerCASConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquee_ledger_cas_conflicts_total",
			Help: "Ledger compare-and-swap attempts that lost to a concurrent writer",
		},
	)

	// Invitations and access

	InvitationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_invitations_total",
			Help: "Invitation operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_access_checks_total",
			Help: "Access decisions by granted reason",
		},
		[]string{"reason"}, // creator, ticket, invitation, denied
	)

	// Fan-out channel

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquee_websocket_connections",
			Help: "Current number of realtime connections",
		},
	)

	WSRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquee_websocket_rooms",
			Help: "Current number of events with at least one realtime connection",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_websocket_messages_sent_total",
			Help: "Realtime messages queued for delivery by type",
		},
		[]string{"type"},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_websocket_messages_received_total",
			Help: "Realtime messages received by type",
		},
		[]string{"type"},
	)

	WSDroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquee_websocket_dropped_clients_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	// Reaper

	ReaperSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquee_reaper_sweeps_total",
			Help: "Completed reaper sweeps",
		},
	)

	ReaperExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_reaper_expired_total",
			Help: "Entries removed by the reaper by kind",
		},
		[]string{"kind"}, // session, ledger, invitation
	)

	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marquee_reaper_sweep_duration_seconds",
			Help:    "Duration of reaper sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Upstream collaborators

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_upstream_requests_total",
			Help: "Calls to upstream collaborators by upstream, operation and outcome",
		},
		[]string{"upstream", "operation", "outcome"},
	)

	UpstreamCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_upstream_cache_total",
			Help: "Entitlement cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marquee_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Audit

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_audit_events_total",
			Help: "Audit events by outcome of the write (stored, dropped, failed)",
		},
		[]string{"result"},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquee_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marquee_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquee_api_active_requests",
			Help: "Requests currently being handled",
		},
	)
)

// RecordSessionAction records one lifecycle action.
func RecordSessionAction(action, outcome string, duration time.Duration) {
	SessionActions.WithLabelValues(action, outcome).Inc()
	SessionActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordUpstream records one upstream call.
func RecordUpstream(upstream, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequests.WithLabelValues(upstream, operation, outcome).Inc()
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
