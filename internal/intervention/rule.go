// Package intervention decides when the orchestrator should interrupt the
// natural flow of an interview with a corrective directive.
package intervention

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

// Kind names a category of intervention.
type Kind string

const (
	PreventPrematureSolutioning   Kind = "prevent_premature_solutioning"
	EnsureUserFocus               Kind = "ensure_user_focus"
	DemandPrioritizationRationale Kind = "demand_prioritization_rationale"
	RequireMeasurableMetrics      Kind = "require_measurable_metrics"
	HandleSilenceOrConfusion      Kind = "handle_silence_or_confusion"
)

// Match controls how Keywords are tested against the utterance.
type Match string

const (
	// MatchAny requires at least one keyword in the utterance.
	MatchAny Match = "any"
	// MatchNone requires that no keyword appears.
	MatchNone Match = "none"
	// MatchIgnore skips the keyword test.
	MatchIgnore Match = "ignore"
)

// ScoreBelow holds when the named dimension scores under Threshold.
// A dimension with no score counts as zero.
type ScoreBelow struct {
	Dimension string
	Threshold float64
}

// Rule is one gating condition. A rule fires when the phase matches and
// either the silence exceeds SilenceOver or both the keyword test and the
// score test hold.
type Rule struct {
	Kind     Kind
	Phases   []phase.Phase
	Keywords []string
	Match    Match
	Score    *ScoreBelow

	// SilenceOver fires the rule on its own when positive and exceeded.
	SilenceOver time.Duration

	Message  string
	Priority message.Priority
}

// ValidationError reports a malformed rule.
type ValidationError struct {
	Index  int
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intervention rule %d (%s): %s", e.Index, e.Kind, e.Reason)
}

func (r Rule) validate(i int) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Index: i, Kind: r.Kind, Reason: fmt.Sprintf(format, args...)}
	}

	if r.Kind == "" {
		return fail("kind is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return fail("message is required")
	}
	for _, p := range r.Phases {
		if !p.Valid() {
			return fail("unknown phase %q", p)
		}
	}
	switch r.Match {
	case MatchAny, MatchNone:
		if len(r.Keywords) == 0 {
			return fail("match %q requires keywords", r.Match)
		}
		for _, k := range r.Keywords {
			if strings.TrimSpace(k) == "" {
				return fail("empty keyword")
			}
		}
	case MatchIgnore, "":
	default:
		return fail("unknown match %q", r.Match)
	}
	if r.Score != nil && strings.TrimSpace(r.Score.Dimension) == "" {
		return fail("score dimension is required")
	}
	if r.SilenceOver < 0 {
		return fail("silence threshold must not be negative")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fail("unknown priority %q", r.Priority)
	}
	if (r.Match == MatchIgnore || r.Match == "") && r.Score == nil && r.SilenceOver == 0 {
		return fail("rule has no condition")
	}
	return nil
}

// DefaultSilenceThreshold is the pause after which a nudge is issued.
const DefaultSilenceThreshold = 15 * time.Second

// DefaultRules returns the standard rule set in evaluation order.
func DefaultRules(silence time.Duration) []Rule {
	if silence <= 0 {
		silence = DefaultSilenceThreshold
	}
	return []Rule{
		{
			Kind:     PreventPrematureSolutioning,
			Phases:   []phase.Phase{phase.Scoping},
			Keywords: []string{"solution", "implement", "build", "code", "develop", "recommend", "my approach would be"},
			Match:    MatchAny,
			Score:    &ScoreBelow{Dimension: "Problem Definition & Structuring", Threshold: 3.0},
			Message:  "That's an interesting idea. Before we dive into solutions, could you first walk me through how you're structuring your overall approach to this problem?",
			Priority: message.PriorityHigh,
		},
		{
			Kind:     EnsureUserFocus,
			Phases:   []phase.Phase{phase.Analysis},
			Keywords: []string{"user", "customer", "persona", "audience", "stakeholder"},
			Match:    MatchNone,
			Message:  "This is a good start. Could you tell me more about the specific users or customers you are designing this for?",
			Priority: message.PriorityNormal,
		},
		{
			Kind:     DemandPrioritizationRationale,
			Phases:   []phase.Phase{phase.Solutioning},
			Keywords: []string{"because", "reason", "why", "chose", "decided", "trade-off", "tradeoff"},
			Match:    MatchNone,
			Message:  "That sounds like a viable solution. Can you walk me through why you chose this particular solution over other alternatives you may have considered?",
			Priority: message.PriorityNormal,
		},
		{
			Kind:     RequireMeasurableMetrics,
			Phases:   []phase.Phase{phase.Metrics},
			Keywords: []string{"engagement", "success", "good", "better", "improvement"},
			Match:    MatchAny,
			Score:    &ScoreBelow{Dimension: "Success Metrics", Threshold: 3.0},
			Message:  "That makes sense. Could you define 'engagement' more specifically? What is the single most important metric you would track as your North Star?",
			Priority: message.PriorityHigh,
		},
		{
			Kind:        HandleSilenceOrConfusion,
			Keywords:    []string{"i'm not sure", "i don't understand", "confused", "unclear"},
			Match:       MatchAny,
			SilenceOver: silence,
			Message:     "This is a challenging problem. Why don't we start by identifying the main goal of the business in this scenario? What are they trying to achieve?",
			Priority:    message.PriorityUrgent,
		},
	}
}
