package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

// HandleMessage applies a message sent by a collaborator. Messages for
// unknown or ended sessions are dropped. Kinds the orchestrator only sends
// return ErrUnexpectedMessage.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg message.Message) error {
	body, err := message.Decode(msg)
	if err != nil {
		return err
	}
	switch body.(type) {
	case message.ResponseScored, message.ContextReady, message.QuestionGenerated, message.PhaseRecommendation:
	default:
		return fmt.Errorf("%w: %s from %s", ErrUnexpectedMessage, msg.Kind, msg.From)
	}

	ctx = withIDs(ctx, msg.SessionID, "")
	e, err := o.acquire(ctx, msg.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		o.logger.Warn(ctx, "dropping message for unknown session",
			zap.String("kind", string(msg.Kind)),
			zap.String("from", string(msg.From)))
		return nil
	}
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	s := e.sess
	if s.Ended {
		o.logger.Debug(ctx, "dropping message for ended session", zap.String("kind", string(msg.Kind)))
		return nil
	}

	now := o.now()
	switch b := body.(type) {
	case message.ResponseScored:
		s.MergeScores(b.Scores)
		o.recheck(ctx, s, now)
	case message.ContextReady:
		if len(b.Attributes) > 0 && s.Context.Attributes == nil {
			s.Context.Attributes = make(map[string]any, len(b.Attributes))
		}
		for k, v := range b.Attributes {
			s.Context.Attributes[k] = v
		}
	case message.QuestionGenerated:
		s.LastQuestion = b.Question
		s.LastQuestionAt = now
	case message.PhaseRecommendation:
		if !o.machine.CanTransition(s.Phase, b.Target) {
			o.metrics.illegal(string(s.Phase), string(b.Target))
			o.logger.Warn(ctx, "ignoring illegal phase recommendation",
				zap.String("from", string(s.Phase)),
				zap.String("to", string(b.Target)),
				zap.String("reason", b.Reason))
			return nil
		}
		o.commit(ctx, s, b.Target, phase.TriggerAIRecommended, now)
		if o.machine.IsTerminal(s.Phase) {
			s.Ended = true
			s.EndedAt = now
			o.metrics.sessionEnded()
		}
	}
	s.UpdatedAt = now
	o.persist(ctx, s)
	return nil
}

// recheck runs the gating rules against freshly merged scores for the last
// utterance. An utterance that already drew a directive is not re-gated.
func (o *Orchestrator) recheck(ctx context.Context, s *session.Session, now time.Time) {
	if s.LastUtterance == "" {
		return
	}
	if n := len(s.Interventions); n > 0 && !s.Interventions[n-1].At.Before(s.LastUtteranceAt) {
		return
	}
	d, ok := o.engine.Check(intervention.Input{Phase: s.Phase, Utterance: s.LastUtterance, Silence: s.Silence}, s.Scores)
	if !ok {
		return
	}
	o.intervene(ctx, s, d, now)
}

// Inbound adapts HandleMessage to a message.Endpoint so collaborators can
// reply over the same transports the orchestrator sends on.
func (o *Orchestrator) Inbound() message.Endpoint {
	return message.EndpointFunc(o.HandleMessage)
}
