// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/models"
)

const maxAuditLimit = 1000

// listResponse wraps admin list results.
type listResponse struct {
	Count int         `json:"count"`
	Items interface{} `json:"items"`
}

// AdminSessions handles GET /admin/sessions?eventId=.
func (rt *Router) AdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := rt.deps.Sessions.Sessions(r.Context(), r.URL.Query().Get("eventId"))
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Count: len(sessions), Items: sessions})
}

// AdminLedgers handles GET /admin/ledgers.
func (rt *Router) AdminLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := rt.deps.Sessions.Ledgers(r.Context())
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Count: len(ledgers), Items: ledgers})
}

// AdminAudit handles GET /admin/audit with optional type, outcome, actorId,
// eventId, since, until, limit and offset query parameters.
func (rt *Router) AdminAudit(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Audit == nil {
		rt.errs.writeError(w, r, fmt.Errorf("%w: audit logging disabled", models.ErrNotFound))
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}

	events, err := rt.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	total, err := rt.deps.Audit.Count(r.Context(), filter)
	if err != nil {
		rt.errs.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"count":  len(events),
		"events": events,
	})
}

func parseAuditFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	filter := audit.DefaultQueryFilter()
	filter.ActorID = q.Get("actorId")
	filter.EventID = q.Get("eventId")
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	for _, o := range q["outcome"] {
		filter.Outcomes = append(filter.Outcomes, audit.Outcome(o))
	}

	for name, dst := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be RFC3339", models.ErrValidation, name)
		}
		*dst = &t
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrValidation, name)
		}
		*dst = n
	}
	if filter.Limit == 0 || filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	return filter, nil
}
