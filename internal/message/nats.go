package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the root of every coachd subject.
const DefaultSubjectPrefix = "coachd.agents"

// NATSTransport carries messages over NATS subjects of the form
// <prefix>.<agent>.<kind>. It implements Directory.
type NATSTransport struct {
	nc         *nats.Conn
	prefix     string
	requireAck bool
	logger     *zap.Logger
}

// NATSOption configures a NATSTransport.
type NATSOption func(*NATSTransport)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(t *NATSTransport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithAck makes Send wait for the collaborator to acknowledge receipt.
// A subject with no subscriber then fails with ErrCollaboratorUnavailable.
func WithAck() NATSOption {
	return func(t *NATSTransport) { t.requireAck = true }
}

// WithNATSLogger sets the logger.
func WithNATSLogger(l *zap.Logger) NATSOption {
	return func(t *NATSTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewNATSTransport wraps an established connection.
func NewNATSTransport(nc *nats.Conn, opts ...NATSOption) *NATSTransport {
	t := &NATSTransport{
		nc:     nc,
		prefix: DefaultSubjectPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subject returns the subject a message of kind for agent is published on.
func (t *NATSTransport) Subject(agent Agent, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", t.prefix, agent, kind)
}

// Endpoint implements Directory.
func (t *NATSTransport) Endpoint(agent Agent) (Endpoint, bool) {
	switch agent {
	case ContextAgent, Interviewer, Evaluator, Synthesis, Orchestrator:
		return &natsEndpoint{t: t, agent: agent}, true
	}
	return nil, false
}

// Subscribe delivers every message addressed to agent to handler. Requests
// carrying a reply subject are acknowledged after handler returns.
func (t *NATSTransport) Subscribe(agent Agent, handler Handler) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.%s.>", t.prefix, agent)
	sub, err := t.nc.Subscribe(subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			t.logger.Warn("discarding malformed message",
				zap.String("subject", m.Subject),
				zap.Error(err))
			return
		}
		herr := handler(context.Background(), msg)
		if herr != nil {
			t.logger.Warn("message handler failed",
				zap.String("message_id", msg.ID),
				zap.String("kind", string(msg.Kind)),
				zap.Error(herr))
		}
		if m.Reply != "" {
			ack := []byte("ok")
			if herr != nil {
				ack = []byte("error: " + herr.Error())
			}
			if err := m.Respond(ack); err != nil {
				t.logger.Debug("ack failed", zap.Error(err))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

type natsEndpoint struct {
	t     *NATSTransport
	agent Agent
}

func (e *natsEndpoint) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	subject := e.t.Subject(e.agent, msg.Kind)

	if !e.t.requireAck {
		if err := e.t.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}

	if _, err := e.t.nc.RequestWithContext(ctx, subject, data); err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%s: %w", e.agent, ErrCollaboratorUnavailable)
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}
	return nil
}
