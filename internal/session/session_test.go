package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestSession() *Session {
	return New("s1", "u1", complexity.Context{InterviewType: "product sense", Level: "L5"}, phase.Configuring, complexity.Medium, t0)
}

func TestNew(t *testing.T) {
	s := newTestSession()
	assert.Equal(t, phase.Configuring, s.Phase)
	assert.Equal(t, complexity.ChainOfThought, s.Strategy)
	assert.Empty(t, s.Transitions)
	assert.NotNil(t, s.Scores)
	assert.Equal(t, t0, s.CreatedAt)
}

func TestApply(t *testing.T) {
	s := newTestSession()
	rec := s.Apply(phase.Scoping, phase.TriggerSessionStart, t0.Add(time.Second))
	assert.Equal(t, phase.Configuring, rec.From)
	assert.Equal(t, time.Second, rec.Elapsed)

	rec = s.Apply(phase.Analysis, phase.TriggerSemantic, t0.Add(time.Minute))
	assert.Equal(t, 59*time.Second, rec.Elapsed)
	assert.Equal(t, phase.Analysis, s.Phase)
	assert.Equal(t, phase.Scoping, s.PreviousPhase)
	assert.Len(t, s.Transitions, 2)
	assert.Equal(t, t0.Add(time.Minute), s.PhaseEnteredAt)
}

func TestRecordAndTier(t *testing.T) {
	s := newTestSession()
	s.Phase = phase.Analysis
	rec := s.Record(intervention.Directive{
		Kind:     intervention.EnsureUserFocus,
		Message:  "who?",
		Context:  map[string]any{"phase": "analysis"},
		Priority: message.PriorityNormal,
	}, t0)
	assert.Equal(t, phase.Analysis, rec.Phase)
	assert.Len(t, s.Interventions, 1)

	assert.False(t, s.SetTier(complexity.Medium))
	assert.True(t, s.SetTier(complexity.High))
	assert.Equal(t, complexity.StepBack, s.Strategy)
}

func TestMergeScores(t *testing.T) {
	s := newTestSession()
	s.MergeScores(map[string]float64{"a": 1, "b": 2})
	s.MergeScores(map[string]float64{"b": 4})
	assert.Equal(t, map[string]float64{"a": 1, "b": 4}, s.Scores)
}

func TestDuration(t *testing.T) {
	s := newTestSession()
	assert.Equal(t, time.Hour, s.Duration(t0.Add(time.Hour)))

	s.Ended = true
	s.EndedAt = t0.Add(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, s.Duration(t0.Add(time.Hour)))
}

func TestClone(t *testing.T) {
	s := newTestSession()
	s.Apply(phase.Scoping, phase.TriggerSessionStart, t0)
	s.MergeScores(map[string]float64{"a": 1})
	s.Record(intervention.Directive{Kind: "k", Context: map[string]any{"x": 1}}, t0)

	cp := s.Clone()
	cp.Scores["a"] = 9
	cp.Transitions[0].Trigger = phase.TriggerManual
	cp.Interventions[0].Context["x"] = 2

	assert.Equal(t, 1.0, s.Scores["a"])
	assert.Equal(t, phase.TriggerSessionStart, s.Transitions[0].Trigger)
	assert.Equal(t, 1, s.Interventions[0].Context["x"])
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s := newTestSession()
	require.NoError(t, store.Put(ctx, s))

	s.Phase = phase.Metrics
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, phase.Configuring, got.Phase, "store keeps a copy")

	require.NoError(t, store.Put(ctx, s))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, phase.Metrics, got.Phase)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, "s1"))
	assert.Equal(t, 0, store.Len())

	assert.Error(t, store.Put(ctx, &Session{}))
}
