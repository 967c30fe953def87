// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/marquee/internal/logging"
)

// NATSConfig configures the NATS audit forwarder.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// NATSForwarder publishes each audit event to core NATS on
// "<prefix>.<event type>", e.g. "marquee.audit.session.started".
type NATSForwarder struct {
	publisher message.Publisher
	prefix    string
	mu        sync.RWMutex
	closed    bool
}

// NewNATSForwarder connects to NATS. The connection retries in the
// background, so an unreachable server does not fail startup.
func NewNATSForwarder(cfg NATSConfig) (*NATSForwarder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "marquee.audit"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("marquee-audit"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Audit NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Audit NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, watermill.NewSlogLogger(logging.NewSlogLogger()))
	if err != nil {
		return nil, fmt.Errorf("create audit publisher: %w", err)
	}

	return &NATSForwarder{
		publisher: pub,
		prefix:    strings.TrimSuffix(cfg.SubjectPrefix, "."),
	}, nil
}

// Subject returns the subject an event type is published on.
func (f *NATSForwarder) Subject(typ EventType) string {
	return f.prefix + "." + string(typ)
}

// Forward implements Forwarder.
func (f *NATSForwarder) Forward(ctx context.Context, event *Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return fmt.Errorf("audit forwarder is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set("type", string(event.Type))
	msg.Metadata.Set("event_id", event.EventID)
	msg.SetContext(ctx)

	if err := f.publisher.Publish(f.Subject(event.Type), msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close closes the underlying NATS connection.
func (f *NATSForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.publisher.Close()
}

var _ Forwarder = (*NATSForwarder)(nil)
