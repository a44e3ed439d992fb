// Package session holds the per-interview state owned by the orchestrator
// and the stores that persist it.
package session

import (
	"time"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

// TransitionRecord is one committed phase change.
type TransitionRecord struct {
	From    phase.Phase   `json:"from"`
	To      phase.Phase   `json:"to"`
	Trigger phase.Trigger `json:"trigger"`
	At      time.Time     `json:"at"`
	// Elapsed is the time spent in From.
	Elapsed time.Duration `json:"elapsed"`
}

// InterventionRecord is one issued directive.
type InterventionRecord struct {
	Kind     intervention.Kind `json:"kind"`
	Message  string            `json:"message"`
	Context  map[string]any    `json:"context,omitempty"`
	Priority message.Priority  `json:"priority"`
	Phase    phase.Phase       `json:"phase"`
	At       time.Time         `json:"at"`
}

// Session is the state of one interview.
type Session struct {
	ID      string             `json:"id"`
	UserID  string             `json:"user_id"`
	Context complexity.Context `json:"context"`

	Phase          phase.Phase `json:"phase"`
	PreviousPhase  phase.Phase `json:"previous_phase,omitempty"`
	PhaseEnteredAt time.Time   `json:"phase_entered_at"`

	Tier     complexity.Tier     `json:"tier"`
	Strategy complexity.Strategy `json:"strategy"`

	Transitions   []TransitionRecord   `json:"transitions"`
	Interventions []InterventionRecord `json:"interventions"`
	Scores        map[string]float64   `json:"scores"`

	LastUtterance   string        `json:"last_utterance,omitempty"`
	LastUtteranceAt time.Time     `json:"last_utterance_at,omitempty"`
	LastQuestion    string        `json:"last_question,omitempty"`
	LastQuestionAt  time.Time     `json:"last_question_at,omitempty"`
	Silence         time.Duration `json:"silence"`
	Turns           int           `json:"turns"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Ended     bool      `json:"ended"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// New creates a session in the given initial phase.
func New(id, userID string, c complexity.Context, initial phase.Phase, tier complexity.Tier, now time.Time) *Session {
	return &Session{
		ID:             id,
		UserID:         userID,
		Context:        c.Clone(),
		Phase:          initial,
		PhaseEnteredAt: now,
		Tier:           tier,
		Strategy:       complexity.SelectStrategy(tier),
		Transitions:    []TransitionRecord{},
		Interventions:  []InterventionRecord{},
		Scores:         map[string]float64{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Apply moves the session to next and appends the record. Legality is the
// caller's responsibility.
func (s *Session) Apply(next phase.Phase, trigger phase.Trigger, now time.Time) TransitionRecord {
	rec := TransitionRecord{
		From:    s.Phase,
		To:      next,
		Trigger: trigger,
		At:      now,
		Elapsed: now.Sub(s.PhaseEnteredAt),
	}
	s.Transitions = append(s.Transitions, rec)
	s.PreviousPhase = s.Phase
	s.Phase = next
	s.PhaseEnteredAt = now
	s.UpdatedAt = now
	return rec
}

// Record appends an intervention issued in the current phase.
func (s *Session) Record(d intervention.Directive, now time.Time) InterventionRecord {
	rec := InterventionRecord{
		Kind:     d.Kind,
		Message:  d.Message,
		Context:  copyAny(d.Context),
		Priority: d.Priority,
		Phase:    s.Phase,
		At:       now,
	}
	s.Interventions = append(s.Interventions, rec)
	s.UpdatedAt = now
	return rec
}

// SetTier updates the tier and its strategy. It reports whether the tier changed.
func (s *Session) SetTier(t complexity.Tier) bool {
	if s.Tier == t {
		return false
	}
	s.Tier = t
	s.Strategy = complexity.SelectStrategy(t)
	return true
}

// MergeScores overwrites scores per dimension.
func (s *Session) MergeScores(scores map[string]float64) {
	if s.Scores == nil {
		s.Scores = make(map[string]float64, len(scores))
	}
	for k, v := range scores {
		s.Scores[k] = v
	}
}

// Duration returns the session length up to now, or up to its end.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.Ended {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.Clone()
	out.Transitions = append([]TransitionRecord{}, s.Transitions...)
	out.Interventions = make([]InterventionRecord, len(s.Interventions))
	for i, rec := range s.Interventions {
		rec.Context = copyAny(rec.Context)
		out.Interventions[i] = rec
	}
	out.Scores = make(map[string]float64, len(s.Scores))
	for k, v := range s.Scores {
		out.Scores[k] = v
	}
	return &out
}

func copyAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
