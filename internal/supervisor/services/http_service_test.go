// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/marquee/internal/api"
	"github.com/tomtom215/marquee/internal/auth"
	"github.com/tomtom215/marquee/internal/authz"
	"github.com/tomtom215/marquee/internal/logging"
)

var _ suture.Service = (*HTTPServerService)(nil)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// marqueeHandler is the API router with one readiness check that fails
// while storeDown is set.
func marqueeHandler(t *testing.T, storeDown *atomic.Bool) http.Handler {
	t.Helper()
	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	router := api.NewRouter(api.Config{}, api.Deps{
		Authenticator: auth.HeaderAuthenticator{},
		Enforcer:      enforcer,
		HealthChecks: []api.HealthCheck{{Name: "ledger_store", Check: func(context.Context) error {
			if storeDown.Load() {
				return errors.New("ledger store unreachable")
			}
			return nil
		}}},
	})
	return router.Handler()
}

// startService runs svc in the background and waits until it listens.
func startService(t *testing.T, svc *HTTPServerService) (base string, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("Serve() returned before listening: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not start listening")
	}
	t.Cleanup(cancel)
	return "http://" + svc.Addr().String(), cancel, errCh
}

func getHealth(t *testing.T, url string) (int, api.HealthResponse) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return")
		return nil
	}
}

func TestHTTPServerService_ServesHealthRoutes(t *testing.T) {
	var storeDown atomic.Bool
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:0", Handler: marqueeHandler(t, &storeDown)}, time.Second)
	base, cancel, done := startService(t, svc)

	if code, body := getHealth(t, base+"/api/v1/health/live"); code != http.StatusOK || body.Status != "alive" {
		t.Errorf("live = %d %q, want 200 alive", code, body.Status)
	}
	if code, body := getHealth(t, base+"/api/v1/health/ready"); code != http.StatusOK || body.Checks["ledger_store"] != "ok" {
		t.Errorf("ready = %d %+v, want 200 with ledger_store ok", code, body)
	}

	storeDown.Store(true)
	code, body := getHealth(t, base+"/api/v1/health/ready")
	if code != http.StatusServiceUnavailable || body.Checks["ledger_store"] != "ledger store unreachable" {
		t.Errorf("ready with store down = %d %+v, want 503", code, body)
	}

	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if _, err := http.Get(base + "/api/v1/health/live"); err == nil {
		t.Error("server still accepting connections after shutdown")
	}
}

func TestHTTPServerService_DrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:0", Handler: mux}, 2*time.Second)
	base, cancel, done := startService(t, svc)

	status := make(chan int, 1)
	go func() {
		resp, err := http.Post(base+"/api/v1/session", "application/json", nil)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	<-entered

	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	if got := <-status; got != http.StatusOK {
		t.Errorf("in-flight request status = %d, want 200", got)
	}
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}

func TestHTTPServerService_ShutdownTimeout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
	})
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:0", Handler: mux}, 50*time.Millisecond)
	base, cancel, done := startService(t, svc)

	go func() {
		if resp, err := http.Get(base + "/"); err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want shutdown deadline exceeded", err)
	}
}

func TestHTTPServerService_PortInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	svc := NewHTTPServerService(&http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}, time.Second)
	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve() on a taken port should fail")
	}
	if svc.Addr() != nil {
		t.Errorf("Addr() = %v after a failed bind, want nil", svc.Addr())
	}
}

func TestHTTPServerService_SupervisorRetriesBind(t *testing.T) {
	var storeDown atomic.Bool
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:0", Handler: marqueeHandler(t, &storeDown)}, time.Second)

	var attempts atomic.Int32
	svc.listen = func(network, addr string) (net.Listener, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("address already in use")
		}
		return net.Listen(network, addr)
	}

	sup := suture.New("api-layer", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	select {
	case <-svc.Ready():
	case <-time.After(3 * time.Second):
		t.Fatalf("server never started after %d bind attempts", attempts.Load())
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("bind attempts = %d, want 3", n)
	}
	if code, _ := getHealth(t, "http://"+svc.Addr().String()+"/api/v1/health/live"); code != http.StatusOK {
		t.Errorf("live after restart = %d, want 200", code)
	}

	cancel()
	<-errCh
}

func TestNewHTTPServerService_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"configured", 3 * time.Second, 3 * time.Second},
		{"zero", 0, DefaultShutdownTimeout},
		{"negative", -time.Second, DefaultShutdownTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHTTPServerService(&http.Server{}, tt.timeout)
			if svc.shutdownTimeout != tt.want {
				t.Errorf("shutdownTimeout = %v, want %v", svc.shutdownTimeout, tt.want)
			}
			if svc.String() != "http-server" {
				t.Errorf("String() = %q, want http-server", svc.String())
			}
		})
	}
}
