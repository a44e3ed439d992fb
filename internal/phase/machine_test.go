package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_CanTransition(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		from, to Phase
		want     bool
	}{
		{Configuring, Scoping, true},
		{Scoping, Analysis, true},
		{Scoping, Challenging, true},
		{Analysis, Solutioning, true},
		{Solutioning, Metrics, true},
		{Metrics, Challenging, true},
		{Challenging, Solutioning, true},
		{ReportGeneration, End, true},
		{Configuring, Analysis, false},
		{Scoping, Metrics, false},
		{Analysis, Scoping, false},
		{Metrics, Solutioning, false},
		{Scoping, End, false},
		{End, Scoping, false},
		{Scoping, Scoping, false},
		{Phase("bogus"), Scoping, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, m.CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachine_CanTransitionMatchesGraph(t *testing.T) {
	m := NewMachine()
	edges := DefaultEdges()

	for _, from := range All() {
		for _, to := range All() {
			declared := false
			for _, next := range edges[from] {
				if next == to {
					declared = true
				}
			}
			assert.Equal(t, declared, m.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestMachine_EndIsTerminal(t *testing.T) {
	m := NewMachine()
	assert.True(t, m.IsTerminal(End))
	assert.False(t, m.IsTerminal(Scoping))
	assert.Empty(t, m.Successors(End))
}

func TestMachine_DetectSemanticTransition(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name      string
		from      Phase
		utterance string
		want      Phase
		found     bool
	}{
		{"scoping to analysis", Scoping, "Let's discuss the user segments and their pain points", Analysis, true},
		{"case insensitive", Scoping, "I want to UNDERSTAND THE PROBLEM first", Analysis, true},
		{"mixed case phrase in table", Solutioning, "I'd track a few kpis here", Metrics, true},
		{"north star", Solutioning, "The north star metric would be weekly active teams", Metrics, true},
		{"analysis to solutioning", Analysis, "My approach would be a guided onboarding", Solutioning, true},
		{"no phrase", Scoping, "What is the target market?", "", false},
		{"phrase belongs to another phase", Scoping, "success metrics matter", "", false},
		{"empty utterance", Scoping, "", "", false},
		{"no table for phase", ReportGeneration, "wrap up", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.DetectSemanticTransition(tt.from, tt.utterance)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMachine_DetectPrecedence(t *testing.T) {
	m, err := NewMachineWith(DefaultEdges(), map[Phase][]TriggerSet{
		Scoping: {
			{Target: Challenging, Phrases: []string{"stress test"}},
			{Target: Analysis, Phrases: []string{"pain points"}},
		},
	})
	require.NoError(t, err)

	got, ok := m.DetectSemanticTransition(Scoping, "pain points first, then a stress test")
	require.True(t, ok)
	assert.Equal(t, Challenging, got)
}

func TestNewMachineWith_Validation(t *testing.T) {
	_, err := NewMachineWith(map[Phase][]Phase{"nope": {Scoping}}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = NewMachineWith(DefaultEdges(), map[Phase][]TriggerSet{
		Scoping: {{Target: Analysis, Phrases: []string{"  "}}},
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "empty phrase")

	edges := DefaultEdges()
	edges[End] = []Phase{Scoping}
	_, err = NewMachineWith(edges, nil)
	require.ErrorAs(t, err, &verr)
}

func TestNewMachineWith_AllowsIllegalTriggerTarget(t *testing.T) {
	m, err := NewMachineWith(DefaultEdges(), map[Phase][]TriggerSet{
		Scoping: {{Target: Metrics, Phrases: []string{"north star"}}},
	})
	require.NoError(t, err)

	got, ok := m.DetectSemanticTransition(Scoping, "our north star")
	require.True(t, ok)
	assert.Equal(t, Metrics, got)
	assert.False(t, m.CanTransition(Scoping, got))
}

func TestPhaseAndTriggerValid(t *testing.T) {
	for _, p := range All() {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, Phase("lobby").Valid())
	assert.True(t, TriggerTimeout.Valid())
	assert.False(t, Trigger("magic").Valid())
}
