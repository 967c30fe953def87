// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marquee/internal/access"
	"github.com/tomtom215/marquee/internal/audit"
	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/authz"
	"github.com/tomtom215/marquee/internal/entitlement"
	"github.com/tomtom215/marquee/internal/invitation"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/models"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/viewing"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// capturingNotifier records the tokens of delivered invitations.
type capturingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string // invitee email -> token
	fail   bool
}

func (n *capturingNotifier) Notify(_ context.Context, inv *models.Invitation, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp down")
	}
	n.tokens[inv.InviteeEmail] = token
	return nil
}

func (n *capturingNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type testServer struct {
	srv      *httptest.Server
	dir      *entitlement.Directory
	notifier *capturingNotifier
	audit    *audit.Logger
}

func newTestServer(t *testing.T, cfg Config, opts ...func(*Deps)) *testServer {
	t.Helper()
	dir := entitlement.NewDirectory()
	dir.PutEvent(models.Event{ID: "e1", Title: "Finals", CreatorID: "creator", Price: 9.99, Currency: "USD", AllowedViewers: 3})
	dir.PutUser(models.User{ID: "free", Email: "free@example.com"})
	dir.PutUser(models.User{ID: "host", Email: "host@example.com", Name: "Host", IsPremium: true})
	dir.PutUser(models.User{ID: "guest", Email: "guest@example.com"})
	dir.PutTicket(models.Ticket{ID: "t1", UserID: "free", EventID: "e1", Status: models.TicketActive, Quantity: 1})

	sessions := store.NewMemorySessionStore()
	ledgers := store.NewMemoryLedgerStore()
	auditLog := audit.NewLogger(audit.NewMemoryStore(1000), audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLog.Close() })

	notifier := &capturingNotifier{tokens: map[string]string{}}
	invitations := invitation.NewService(invitation.Config{}, invitation.NewMemoryStore(), dir, sessions, ledgers, notifier, auditLog)
	svc := viewing.NewService(viewing.DefaultConfig(), viewing.Deps{
		Sessions:    sessions,
		Ledgers:     ledgers,
		Lookup:      dir,
		Invitations: invitations,
		Audit:       auditLog,
	})
	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	deps := Deps{
		Sessions:      svc,
		Invitations:   invitations,
		Access:        access.NewChecker(dir, invitations, svc, auditLog),
		Audit:         auditLog,
		Authenticator: auth.HeaderAuthenticator{},
		Enforcer:      enforcer,
	}
	for _, o := range opts {
		o(&deps)
	}
	srv := httptest.NewServer(NewRouter(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, dir: dir, notifier: notifier, audit: auditLog}
}

// do sends a request as userID ("" for anonymous) and decodes the JSON body into out.
func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}, out interface{}) int {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
		req.Header.Set(auth.HeaderUserEmail, userID+"@example.com")
		if userID == "admin" {
			req.Header.Set(auth.HeaderUserRoles, auth.RoleAdmin)
		}
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func session(event, action, device string) map[string]interface{} {
	return map[string]interface{}{"eventId": event, "action": action, "deviceId": device}
}

func TestSession_StartHeartbeatEnd(t *testing.T) {
	ts := newTestServer(t, Config{})

	var snap viewing.Snapshot
	if code := ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "start", "d1"), &snap); code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", code)
	}
	if snap.DeviceCount != 1 || snap.RemainingSeconds != 900 || snap.CurrentViewerCount != 1 {
		t.Errorf("start snapshot = %+v", snap)
	}

	body := session("e1", "heartbeat", "d1")
	body["currentTime"] = 42.5
	if code := ts.do(t, http.MethodPost, "/api/v1/session", "free", body, &snap); code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, want 200", code)
	}
	if snap.PlaybackPositionSeconds != 42.5 {
		t.Errorf("heartbeat position = %v, want 42.5", snap.PlaybackPositionSeconds)
	}

	var state viewing.EventState
	ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/state", "free", nil, &state)
	if state.CurrentViewerCount != 1 || state.PlaybackPositionSeconds != 42.5 {
		t.Errorf("state = %+v", state)
	}

	for i := 0; i < 2; i++ {
		snap = viewing.Snapshot{}
		if code := ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "end", "d1"), &snap); code != http.StatusOK {
			t.Fatalf("end #%d status = %d, want 200", i+1, code)
		}
		if snap.ViewDuration == nil {
			t.Fatalf("end #%d viewDuration missing", i+1)
		}
	}
	if *snap.ViewDuration != 0 || snap.DeviceCount != 0 {
		t.Errorf("second end = duration %d, devices %d, want 0, 0", *snap.ViewDuration, snap.DeviceCount)
	}
}

func TestSession_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		user     string
		body     interface{}
		setup    func(ts *testServer)
		wantCode int
		wantErr  string
	}{
		{"unauthenticated", Config{}, "", session("e1", "start", "d1"), nil, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing device", Config{}, "free", map[string]string{"eventId": "e1", "action": "start"}, nil, http.StatusBadRequest, ErrCodeValidation},
		{"unknown action", Config{}, "free", session("e1", "pause", "d1"), nil, http.StatusBadRequest, ErrCodeValidation},
		{"unknown field", Config{}, "free", map[string]string{"eventId": "e1", "action": "start", "deviceId": "d1", "userId": "x"}, nil, http.StatusBadRequest, ErrCodeValidation},
		{"unknown event", Config{}, "free", session("nope", "start", "d1"), nil, http.StatusNotFound, ErrCodeNotFound},
		{"heartbeat without session", Config{}, "free", session("e1", "heartbeat", "d1"), nil, http.StatusNotFound, ErrCodeSessionExpired},
		{"device limit", Config{}, "free", session("e1", "start", "d2"), func(ts *testServer) {
			ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "start", "d1"), nil)
		}, http.StatusForbidden, ErrCodeDeviceLimitExceeded},
		{"device limit as 429", Config{DeviceLimitStatus: http.StatusTooManyRequests}, "free", session("e1", "start", "d2"), func(ts *testServer) {
			ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "start", "d1"), nil)
		}, http.StatusTooManyRequests, ErrCodeDeviceLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.cfg)
			if tt.setup != nil {
				tt.setup(ts)
			}
			var resp ErrorResponse
			code := ts.do(t, http.MethodPost, "/api/v1/session", tt.user, tt.body, &resp)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
			if resp.Error == "" || resp.Message == "" || resp.RequestID == "" {
				t.Errorf("incomplete envelope: %+v", resp)
			}
		})
	}
}

func TestSession_MalformedAndOversizedBody(t *testing.T) {
	ts := newTestServer(t, Config{MaxBodyBytes: 64})

	for name, body := range map[string]string{
		"malformed": `{"eventId":`,
		"oversized": `{"eventId":"` + strings.Repeat("x", 200) + `","action":"start","deviceId":"d1"}`,
		"empty":     ``,
	} {
		req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/v1/session", strings.NewReader(body))
		req.Header.Set(auth.HeaderUserID, "free")
		resp, err := ts.srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s body status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestInvitationFlow(t *testing.T) {
	ts := newTestServer(t, Config{})

	var errResp ErrorResponse
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "free",
		map[string]string{"eventId": "e1", "email": "guest@example.com"}, &errResp); code != http.StatusForbidden {
		t.Errorf("non-premium invite status = %d, want 403", code)
	}

	errResp = ErrorResponse{}
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "host",
		map[string]string{"eventId": "e1", "email": "guest@example.com"}, &errResp); code != http.StatusNotFound {
		t.Errorf("invite without session status = %d, want 404 (%+v)", code, errResp)
	}

	ts.do(t, http.MethodPost, "/api/v1/session", "host", session("e1", "start", "tv"), nil)

	var invite InviteResponse
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "host",
		map[string]string{"eventId": "e1", "email": "Guest@Example.com"}, &invite); code != http.StatusOK {
		t.Fatalf("invite status = %d, want 200", code)
	}
	if !invite.Success || invite.Warning != "" {
		t.Errorf("invite = %+v", invite)
	}

	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "host",
		map[string]string{"eventId": "e1", "email": "guest@example.com"}, nil); code != http.StatusConflict {
		t.Errorf("duplicate invite status = %d, want 409", code)
	}

	token := ts.notifier.token("guest@example.com")
	if token == "" {
		t.Fatal("no token delivered")
	}

	var decision access.Decision
	ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/check-access?invitation="+token, "guest", nil, &decision)
	if !decision.HasAccess || !decision.IsSharedViewer || decision.InviterID != "host" {
		t.Errorf("decision with token = %+v", decision)
	}

	var accepted AcceptResponse
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite/accept", "guest",
		map[string]string{"eventId": "e1", "token": token}, &accepted); code != http.StatusOK {
		t.Fatalf("accept status = %d, want 200", code)
	}
	if !accepted.Success || accepted.InviterID != "host" {
		t.Errorf("accept = %+v", accepted)
	}

	errResp = ErrorResponse{}
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite/accept", "guest",
		map[string]string{"eventId": "e1", "token": token}, &errResp); code != http.StatusBadRequest || errResp.Code != ErrCodeInvitationInvalid {
		t.Errorf("repeat accept = %d %q, want 400 %s", code, errResp.Code, ErrCodeInvitationInvalid)
	}

	decision = access.Decision{}
	ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/check-access?invitation="+token, "guest", nil, &decision)
	if !decision.HasAccess || decision.Reason != access.ReasonInvitation {
		t.Errorf("decision after accept = %+v, want invitation access", decision)
	}
}

func TestCheckAccess_SharedViewerReload(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, "/api/v1/session", "host", session("e1", "start", "tv"), nil)
	ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "host",
		map[string]string{"eventId": "e1", "email": "guest@example.com"}, nil)
	token := ts.notifier.token("guest@example.com")

	start := session("e1", "start", "phone")
	start["invitationToken"] = token
	var snap viewing.Snapshot
	if code := ts.do(t, http.MethodPost, "/api/v1/session", "guest", start, &snap); code != http.StatusOK {
		t.Fatalf("shared start status = %d, want 200", code)
	}
	if !snap.IsSharedViewer {
		t.Fatalf("snapshot = %+v, want shared viewer", snap)
	}

	var decision access.Decision
	ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/check-access?invitation="+token, "guest", nil, &decision)
	if !decision.HasAccess || !decision.IsSharedViewer || decision.InviterID != "host" {
		t.Errorf("decision while watching = %+v, want shared access", decision)
	}

	// The token stays bound to the user who accepted it.
	decision = access.Decision{}
	ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/check-access?invitation="+token, "free", nil, &decision)
	if decision.IsSharedViewer || decision.Reason == access.ReasonInvitation {
		t.Errorf("decision for another user = %+v, want no invitation access", decision)
	}
}

func TestInvite_NotificationFailureIsWarning(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.notifier.fail = true
	ts.do(t, http.MethodPost, "/api/v1/session", "host", session("e1", "start", "tv"), nil)

	var invite InviteResponse
	if code := ts.do(t, http.MethodPost, "/api/v1/live-stream/invite", "host",
		map[string]string{"eventId": "e1", "email": "guest@example.com"}, &invite); code != http.StatusOK {
		t.Fatalf("invite status = %d, want 200", code)
	}
	if !invite.Success || invite.Warning == "" {
		t.Errorf("invite = %+v, want success with warning", invite)
	}
}

func TestCheckAccess(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		user       string
		wantAccess bool
		wantReason access.Reason
	}{
		{"creator", true, access.ReasonCreator},
		{"free", true, access.ReasonTicket},
		{"guest", false, access.ReasonDenied},
	}
	for _, tt := range tests {
		var d access.Decision
		if code := ts.do(t, http.MethodGet, "/api/v1/live-stream/e1/check-access", tt.user, nil, &d); code != http.StatusOK {
			t.Fatalf("%s status = %d", tt.user, code)
		}
		if d.HasAccess != tt.wantAccess || d.Reason != tt.wantReason {
			t.Errorf("%s decision = %v %s, want %v %s", tt.user, d.HasAccess, d.Reason, tt.wantAccess, tt.wantReason)
		}
		if d.Event.Title != "Finals" {
			t.Errorf("%s event summary title = %q", tt.user, d.Event.Title)
		}
	}

	if code := ts.do(t, http.MethodGet, "/api/v1/live-stream/unknown/check-access", "free", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown event status = %d, want 404", code)
	}
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "start", "d1"), nil)

	if code := ts.do(t, http.MethodGet, "/api/v1/admin/sessions", "free", nil, nil); code != http.StatusForbidden {
		t.Errorf("viewer admin status = %d, want 403", code)
	}

	var list struct {
		Count int `json:"count"`
	}
	if code := ts.do(t, http.MethodGet, "/api/v1/admin/sessions?eventId=e1", "admin", nil, &list); code != http.StatusOK || list.Count != 1 {
		t.Errorf("admin sessions = %d, count %d, want 200, 1", code, list.Count)
	}
	if code := ts.do(t, http.MethodGet, "/api/v1/admin/ledgers", "admin", nil, &list); code != http.StatusOK || list.Count != 1 {
		t.Errorf("admin ledgers = %d, count %d, want 200, 1", code, list.Count)
	}

	// Close drains the async audit buffer; queries still read the store.
	_ = ts.audit.Close()
	var auditResp struct {
		Total int64         `json:"total"`
		Items []audit.Event `json:"events"`
	}
	if code := ts.do(t, http.MethodGet, "/api/v1/admin/audit?type=session.started", "admin", nil, &auditResp); code != http.StatusOK {
		t.Fatalf("admin audit status = %d", code)
	}
	if auditResp.Total != 1 || len(auditResp.Items) != 1 {
		t.Errorf("audit total = %d, items %d, want 1, 1", auditResp.Total, len(auditResp.Items))
	}
	if code := ts.do(t, http.MethodGet, "/api/v1/admin/audit?since=yesterday", "admin", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	failing := errors.New("badger closed")
	var fail bool
	ts := newTestServer(t, Config{}, func(d *Deps) {
		d.HealthChecks = []HealthCheck{{Name: "ledgers", Check: func(context.Context) error {
			if fail {
				return failing
			}
			return nil
		}}}
	})

	var h HealthResponse
	if code := ts.do(t, http.MethodGet, "/api/v1/health/live", "", nil, &h); code != http.StatusOK || h.Status != "alive" {
		t.Errorf("live = %d %q", code, h.Status)
	}
	if code := ts.do(t, http.MethodGet, "/api/v1/health/ready", "", nil, &h); code != http.StatusOK || h.Checks["ledgers"] != "ok" {
		t.Errorf("ready = %d %+v", code, h)
	}
	fail = true
	if code := ts.do(t, http.MethodGet, "/api/v1/health/ready", "", nil, &h); code != http.StatusServiceUnavailable || h.Checks["ledgers"] != failing.Error() {
		t.Errorf("not ready = %d %+v", code, h)
	}

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), "marquee_") {
		t.Error("metrics output has no marquee_ series")
	}
}

func TestRateLimit(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 2
	mw.RateLimitWindow = time.Hour
	ts := newTestServer(t, Config{Middleware: mw})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(t, http.MethodPost, "/api/v1/session", "free", session("e1", "end", "d1"), nil))
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want third 429", codes)
	}
}

func TestStatusFor(t *testing.T) {
	m := errorMapper{}
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrValidation, 400, ErrCodeValidation},
		{models.ErrAuth, 401, ErrCodeUnauthorized},
		{models.ErrQuotaExceeded, 403, ErrCodeQuotaExceeded},
		{models.ErrForbidden, 403, ErrCodeForbidden},
		{models.ErrTooManyDevices, 429, ErrCodeTooManyDevices},
		{models.ErrConflict, 409, ErrCodeConflict},
		{models.ErrUpstreamUnavailable, 500, ErrCodeUpstream},
		{errors.New("boom"), 500, ErrCodeInternal},
	}
	for _, tt := range tests {
		status, code, _ := m.statusFor(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("statusFor(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
