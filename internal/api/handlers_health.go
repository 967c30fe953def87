// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// readinessTimeout bounds each readiness check.
const readinessTimeout = 2 * time.Second

// HealthLive reports that the process is serving requests, regardless of dependencies.
func (rt *Router) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "alive",
		UptimeSeconds: time.Since(rt.startTime).Seconds(),
	})
}

// HealthReady runs every readiness check and returns 503 if any fails.
func (rt *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ready",
		UptimeSeconds: time.Since(rt.startTime).Seconds(),
		Checks:        make(map[string]string, len(rt.deps.HealthChecks)),
	}
	status := http.StatusOK

	for _, hc := range rt.deps.HealthChecks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := hc.Check(ctx)
		cancel()
		if err != nil {
			resp.Checks[hc.Name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	respondJSON(w, status, resp)
}
