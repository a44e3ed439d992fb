package message

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	msg := New(Orchestrator, Evaluator, "s1", EvaluateResponse{Utterance: "hi", Phase: phase.Scoping})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, TypeRequest, msg.Type)
	assert.Equal(t, KindEvaluateResponse, msg.Kind)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.Equal(t, DefaultTTL, msg.TTL)
	assert.Equal(t, "hi", msg.Payload["utterance"])
	assert.Equal(t, "scoping", msg.Payload["phase"])
}

func TestNew_Options(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := New(Orchestrator, Interviewer, "s1",
		ApplyIntervention{Intervention: "ensure_user_focus", Text: "who are the users?"},
		WithPriority(PriorityHigh), WithTimestamp(at), WithTTL(time.Second), WithCorrelation("c1"))

	assert.Equal(t, TypeNotification, msg.Type)
	assert.Equal(t, PriorityHigh, msg.Priority)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "c1", msg.CorrelationID)
	assert.False(t, msg.Expired(at.Add(500*time.Millisecond)))
	assert.True(t, msg.Expired(at.Add(2*time.Second)))
}

func TestDecode(t *testing.T) {
	bodies := []Body{
		InitializeSession{UserID: "u1", Phase: phase.Scoping, Tier: complexity.High, Strategy: complexity.StepBack,
			Interview: complexity.Context{InterviewType: "product sense", Level: "L5"}},
		UpdateContext{Utterance: "x", Phase: phase.Analysis, Turn: 3},
		EvaluateResponse{Utterance: "x", Phase: phase.Analysis, ResponseTime: 1500 * time.Millisecond},
		GenerateFollowup{Utterance: "x", Strategy: complexity.Lean},
		ApplyIntervention{Intervention: "k", Text: "t", Priority: PriorityUrgent, Context: map[string]any{"threshold": 3.0}},
		PhaseChanged{From: phase.Scoping, To: phase.Analysis, Trigger: phase.TriggerSemantic},
		GenerateChallenge{Phase: phase.Challenging},
		GenerateReport{Scores: map[string]float64{"Success Metrics": 4}, Transitions: 5, Duration: time.Minute},
		ResponseScored{Scores: map[string]float64{"Problem Definition & Structuring": 2.5}},
		ContextReady{Attributes: map[string]any{"company": "acme"}},
		QuestionGenerated{Question: "why?"},
		PhaseRecommendation{Target: phase.Metrics, Reason: "done"},
	}

	for _, b := range bodies {
		t.Run(string(b.Kind()), func(t *testing.T) {
			msg := New(Orchestrator, Evaluator, "s1", b)
			got, err := Decode(msg)
			require.NoError(t, err)
			assert.Equal(t, b, got)
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(Message{ID: "m1", Kind: "teleport"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "unknown kind")

	_, err = Decode(Message{ID: "m2", Kind: KindResponseScored, Payload: map[string]any{"scores": "high"}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReply(t *testing.T) {
	req := New(Orchestrator, Evaluator, "s1", EvaluateResponse{Utterance: "x"}, WithPriority(PriorityHigh))
	resp := req.Reply(ResponseScored{Scores: map[string]float64{"a": 1}})

	assert.Equal(t, Evaluator, resp.From)
	assert.Equal(t, Orchestrator, resp.To)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, PriorityHigh, resp.Priority)
}

func TestRoutes(t *testing.T) {
	dl := NewDeadLetter(1)
	r := Routes{Evaluator: dl, Synthesis: nil}

	ep, ok := r.Endpoint(Evaluator)
	require.True(t, ok)
	assert.Same(t, dl, ep)

	_, ok = r.Endpoint(Synthesis)
	assert.False(t, ok)
	_, ok = r.Endpoint(Interviewer)
	assert.False(t, ok)
}

func TestDeadLetter(t *testing.T) {
	dl := NewDeadLetter(2)
	ctx := context.Background()

	require.NoError(t, dl.Send(ctx, Message{ID: "1"}))
	require.NoError(t, dl.Send(ctx, Message{ID: "2"}))
	assert.ErrorIs(t, dl.Send(ctx, Message{ID: "3"}), ErrDeadLetterFull)
	assert.Equal(t, 2, dl.Len())

	drained := dl.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "1", drained[0].ID)
	assert.Equal(t, 0, dl.Len())
}

func TestPriorityValid(t *testing.T) {
	assert.True(t, PriorityUrgent.Valid())
	assert.False(t, Priority("meh").Valid())
}
