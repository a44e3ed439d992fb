// Package message defines the envelope exchanged between the orchestrator and
// its collaborating agents, the closed set of message bodies, and the
// transports that carry them.
package message

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a message stays deliverable.
const DefaultTTL = 5 * time.Minute

// Agent names a participant.
type Agent string

const (
	Orchestrator Agent = "orchestrator"
	ContextAgent Agent = "context"
	Interviewer  Agent = "interviewer"
	Evaluator    Agent = "evaluator"
	Synthesis    Agent = "synthesis"
)

// Collaborators returns every agent the orchestrator talks to.
func Collaborators() []Agent {
	return []Agent{ContextAgent, Interviewer, Evaluator, Synthesis}
}

// Type classifies an envelope.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeError        Type = "error"
	TypeHeartbeat    Type = "heartbeat"
)

// Priority orders delivery urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Message is the envelope sent between agents.
type Message struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Kind          Kind           `json:"kind"`
	From          Agent          `json:"from"`
	To            Agent          `json:"to"`
	SessionID     string         `json:"session_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      Priority       `json:"priority"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TTL           time.Duration  `json:"ttl"`
}

// Option customizes a new message.
type Option func(*Message)

// WithPriority sets the priority.
func WithPriority(p Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithTimestamp sets the creation time.
func WithTimestamp(t time.Time) Option {
	return func(m *Message) { m.Timestamp = t }
}

// WithCorrelation links the message to an earlier one.
func WithCorrelation(id string) Option {
	return func(m *Message) { m.CorrelationID = id }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Message) { m.TTL = ttl }
}

// New builds an envelope carrying body.
func New(from, to Agent, sessionID string, body Body, opts ...Option) Message {
	m := Message{
		ID:        uuid.NewString(),
		Type:      body.Kind().Type(),
		Kind:      body.Kind(),
		From:      from,
		To:        to,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
		Payload:   toPayload(body),
		TTL:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Reply builds a response to m from its recipient.
func (m Message) Reply(body Body, opts ...Option) Message {
	opts = append([]Option{WithCorrelation(m.ID), WithPriority(m.Priority)}, opts...)
	return New(m.To, m.From, m.SessionID, body, opts...)
}

// Expired reports whether the TTL has elapsed at now.
func (m Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.Timestamp) > m.TTL
}
