package phase

import (
	"fmt"
	"strings"
)

// TriggerSet maps a set of phrases to a target phase. Any phrase appearing
// in an utterance (case-insensitive substring) proposes the target.
type TriggerSet struct {
	Target  Phase
	Phrases []string
}

// ValidationError reports a malformed graph or trigger table.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid phase table: %s: %s", e.Field, e.Reason)
}

// Machine is the immutable phase graph plus per-phase trigger tables.
// It holds no session state and is safe for concurrent use.
type Machine struct {
	edges    map[Phase][]Phase
	triggers map[Phase][]TriggerSet
}

// DefaultEdges returns the standard interview graph.
func DefaultEdges() map[Phase][]Phase {
	return map[Phase][]Phase{
		Configuring:      {Scoping},
		Scoping:          {Analysis, Challenging, ReportGeneration},
		Analysis:         {Solutioning, Challenging, ReportGeneration},
		Solutioning:      {Metrics, Challenging, ReportGeneration},
		Metrics:          {Challenging, ReportGeneration},
		Challenging:      {Analysis, Solutioning, ReportGeneration},
		ReportGeneration: {End},
		End:              {},
	}
}

// DefaultTriggers returns the standard semantic trigger tables.
func DefaultTriggers() map[Phase][]TriggerSet {
	return map[Phase][]TriggerSet{
		Scoping: {{
			Target:  Analysis,
			Phrases: []string{"move on to the users", "user segments", "pain points", "understand the problem"},
		}},
		Analysis: {{
			Target:  Solutioning,
			Phrases: []string{"solution I propose", "recommendation", "feature I would build", "my approach would be"},
		}},
		Solutioning: {{
			Target:  Metrics,
			Phrases: []string{"measure success", "KPIs", "North Star metric", "success metrics"},
		}},
		Metrics: {{
			Target:  Challenging,
			Phrases: []string{"what could go wrong", "risks", "edge cases"},
		}},
		Challenging: {{
			Target:  ReportGeneration,
			Phrases: []string{"wrap up", "that's all i have", "ready for feedback"},
		}},
	}
}

// NewMachine returns a machine with the default graph and triggers.
func NewMachine() *Machine {
	m, err := NewMachineWith(DefaultEdges(), DefaultTriggers())
	if err != nil {
		panic(err)
	}
	return m
}

// NewMachineWith builds a machine from custom tables. Trigger targets are
// not required to be legal edges; legality is checked at commit time.
func NewMachineWith(edges map[Phase][]Phase, triggers map[Phase][]TriggerSet) (*Machine, error) {
	m := &Machine{
		edges:    make(map[Phase][]Phase, len(edges)),
		triggers: make(map[Phase][]TriggerSet, len(triggers)),
	}

	for from, tos := range edges {
		if !from.Valid() {
			return nil, &ValidationError{Field: "edges", Reason: fmt.Sprintf("unknown phase %q", from)}
		}
		for _, to := range tos {
			if !to.Valid() {
				return nil, &ValidationError{Field: "edges." + string(from), Reason: fmt.Sprintf("unknown phase %q", to)}
			}
		}
		m.edges[from] = append([]Phase(nil), tos...)
	}
	if len(m.edges[End]) > 0 {
		return nil, &ValidationError{Field: "edges.end", Reason: "terminal phase cannot have outbound edges"}
	}

	for from, sets := range triggers {
		if !from.Valid() {
			return nil, &ValidationError{Field: "triggers", Reason: fmt.Sprintf("unknown phase %q", from)}
		}
		lowered := make([]TriggerSet, 0, len(sets))
		for _, set := range sets {
			if !set.Target.Valid() {
				return nil, &ValidationError{Field: "triggers." + string(from), Reason: fmt.Sprintf("unknown target %q", set.Target)}
			}
			phrases := make([]string, 0, len(set.Phrases))
			for _, p := range set.Phrases {
				p = strings.ToLower(strings.TrimSpace(p))
				if p == "" {
					return nil, &ValidationError{Field: "triggers." + string(from), Reason: "empty phrase"}
				}
				phrases = append(phrases, p)
			}
			lowered = append(lowered, TriggerSet{Target: set.Target, Phrases: phrases})
		}
		m.triggers[from] = lowered
	}

	return m, nil
}

// CanTransition reports whether to is a declared successor of from.
func (m *Machine) CanTransition(from, to Phase) bool {
	for _, next := range m.edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DetectSemanticTransition returns the first target whose phrases appear in
// the utterance. Table order decides precedence.
func (m *Machine) DetectSemanticTransition(from Phase, utterance string) (Phase, bool) {
	sets := m.triggers[from]
	if len(sets) == 0 || utterance == "" {
		return "", false
	}
	text := strings.ToLower(utterance)
	for _, set := range sets {
		for _, phrase := range set.Phrases {
			if strings.Contains(text, phrase) {
				return set.Target, true
			}
		}
	}
	return "", false
}

// Successors returns the declared successors of from in declaration order.
func (m *Machine) Successors(from Phase) []Phase {
	return append([]Phase(nil), m.edges[from]...)
}

// IsTerminal reports whether p has no outbound edges.
func (m *Machine) IsTerminal(p Phase) bool {
	return len(m.edges[p]) == 0
}

// Initial is the phase new sessions are created in.
func (m *Machine) Initial() Phase { return Configuring }

// FirstWorking is the phase a started interview enters.
func (m *Machine) FirstWorking() Phase { return Scoping }
