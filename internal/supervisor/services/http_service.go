// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/marquee/internal/logging"
)

// DefaultShutdownTimeout bounds request draining when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// HTTPServerService runs the Marquee API server under the supervisor tree.
//
// The listener is bound inside Serve, so a port conflict fails the service
// (and is retried with the supervisor's backoff) instead of the process.
// Websocket connections are hijacked and not tracked by Shutdown; the hub
// service closes them on its own cancellation.
type HTTPServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	listen          func(network, addr string) (net.Listener, error)

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// NewHTTPServerService wraps server. Non-positive shutdownTimeout values
// use DefaultShutdownTimeout.
func NewHTTPServerService(server *http.Server, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		listen:          net.Listen,
		ready:           make(chan struct{}),
	}
}

// Addr returns the bound address once the first Serve has started
// listening, or nil before that.
func (h *HTTPServerService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Ready is closed the first time the server starts accepting connections.
func (h *HTTPServerService) Ready() <-chan struct{} {
	return h.ready
}

func (h *HTTPServerService) markReady(addr net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := h.addr == nil
	h.addr = addr
	if first {
		close(h.ready)
	}
}

// Serve implements suture.Service. Bind and accept failures are returned
// so the supervisor restarts the server; cancellation drains in-flight
// requests for up to the shutdown timeout and returns ctx.Err().
func (h *HTTPServerService) Serve(ctx context.Context) error {
	ln, err := h.listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("http server listen on %s: %w", h.server.Addr, err)
	}
	h.markReady(ln.Addr())
	logging.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)

	case <-ctx.Done():
		// ctx is already canceled; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		err := h.server.Shutdown(shutdownCtx)
		<-errCh
		if err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		logging.Info().Str("addr", ln.Addr().String()).Msg("HTTP server stopped")
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture logging.
func (h *HTTPServerService) String() string {
	return "http-server"
}
