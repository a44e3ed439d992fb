// Package analytics records session events on a best-effort basis. Sinks
// never block the caller and never return errors.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventType names an analytics event.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventTurnProcessed     EventType = "turn_processed"
	EventPhaseTransition   EventType = "phase_transition"
	EventInterventionFired EventType = "intervention_fired"
	EventSessionEnded      EventType = "session_ended"
)

// Event is one analytics record.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Sink accepts events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Event) {}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("analytics")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, e Event) {
	s.logger.Debug("analytics event",
		zap.String("type", string(e.Type)),
		zap.String("session_id", e.SessionID),
		zap.Time("timestamp", e.Timestamp),
		zap.Any("attributes", e.Attributes))
}

// DefaultSubject is the subject NATSSink publishes on.
const DefaultSubject = "coachd.analytics"

// NATSSink publishes events as JSON. Events over the rate budget are dropped.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewNATSSink publishes on subject, allowing perSecond events with burst.
// A non-positive perSecond disables throttling.
func NewNATSSink(nc *nats.Conn, subject string, perSecond float64, burst int, logger *zap.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &NATSSink{
		nc:      nc,
		subject: subject,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Record implements Sink.
func (s *NATSSink) Record(_ context.Context, e Event) {
	if !s.limiter.Allow() {
		s.logger.Debug("analytics event dropped", zap.String("type", string(e.Type)))
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("encode analytics event", zap.Error(err))
		return
	}
	subject := s.subject + "." + string(e.Type)
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Warn("publish analytics event", zap.String("subject", subject), zap.Error(err))
	}
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}
