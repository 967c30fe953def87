// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `koanf:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `koanf:"log_level"`

	// RetentionDays is how long to keep audit events. Zero keeps them forever.
	RetentionDays int `koanf:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `koanf:"buffer_size"`

	// LogToStdout also writes events to the application log.
	LogToStdout bool `koanf:"log_to_stdout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   30,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Forwarder publishes events to an external sink after they are stored.
type Forwarder interface {
	Forward(ctx context.Context, event *Event) error
}

// Logger is the audit logging service.
type Logger struct {
	config     *Config
	store      Store
	forwarders []Forwarder
	eventChan  chan *Event
	mu         sync.RWMutex
	stopChan   chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewLogger creates an audit logger writing to store and, after each save,
// to every forwarder.
func NewLogger(store Store, config *Config, forwarders ...Forwarder) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}

	l := &Logger{
		config:     config,
		store:      store,
		forwarders: forwarders,
		eventChan:  make(chan *Event, config.BufferSize),
		stopChan:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if l.store != nil {
		if err := l.store.Save(ctx, event); err != nil {
			metrics.AuditEvents.WithLabelValues("store_error").Inc()
			logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
			return
		}
	}
	for _, f := range l.forwarders {
		if err := f.Forward(ctx, event); err != nil {
			metrics.AuditEvents.WithLabelValues("forward_error").Inc()
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to forward audit event")
		}
	}
	metrics.AuditEvents.WithLabelValues("written").Inc()
}

// Log records an audit event. It never blocks.
func (l *Logger) Log(event *Event) {
	if l == nil || event == nil {
		return
	}
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if !config.Enabled {
		return
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if severityOrder[event.Severity] < severityOrder[config.LogLevel] {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-l.stopChan:
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		return
	default:
	}

	select {
	case l.eventChan <- event:
	default:
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		logging.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("Audit event buffer full, dropping event")
	}
}

// Record is a convenience wrapper that fills the request ID from ctx
// and encodes metadata.
//
//nolint:gocritic // hugeParam: Actor passed by value for call-site brevity
func (l *Logger) Record(ctx context.Context, typ EventType, outcome Outcome, actor Actor, eventID, deviceID, description string, metadata map[string]interface{}) {
	if l == nil {
		return
	}
	severity := SeverityInfo
	if outcome == OutcomeFailure {
		severity = SeverityWarning
	}
	l.Log(&Event{
		Type:        typ,
		Severity:    severity,
		Outcome:     outcome,
		Actor:       actor,
		EventID:     eventID,
		DeviceID:    deviceID,
		Action:      actionOf(typ),
		Description: description,
		Metadata:    mustJSON(metadata),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

func actionOf(typ EventType) string {
	s := string(typ)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}

func mustJSON(v map[string]interface{}) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Close stops accepting events and drains the buffer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
	return nil
}

// Cleanup deletes events older than the retention period once.
func (l *Logger) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	l.mu.RLock()
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	if retention <= 0 || l.store == nil {
		return 0, nil
	}
	return l.store.Delete(ctx, now.AddDate(0, 0, -retention))
}

// Serve runs retention cleanup until ctx is cancelled. It satisfies
// suture.Service.
func (l *Logger) Serve(ctx context.Context) error {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	l.mu.RUnlock()
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := l.Cleanup(ctx, time.Now())
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// String identifies the logger in supervisor logs.
func (l *Logger) String() string { return "audit-retention" }

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	return l.store.Count(ctx, filter)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit logging is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}
