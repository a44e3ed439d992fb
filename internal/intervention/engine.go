package intervention

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

// Input is the part of a session the rules look at.
type Input struct {
	Phase     phase.Phase
	Utterance string
	Silence   time.Duration
}

// Directive tells the interviewer how to redirect the candidate.
type Directive struct {
	Kind     Kind             `json:"kind"`
	Message  string           `json:"message"`
	Context  map[string]any   `json:"context,omitempty"`
	Priority message.Priority `json:"priority"`
}

// Engine evaluates rules in order and returns the first match.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine validates rules and builds an engine.
func NewEngine(rules []Rule) (*Engine, error) {
	seen := make(map[Kind]bool, len(rules))
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if err := r.validate(i); err != nil {
			return nil, err
		}
		if seen[r.Kind] {
			return nil, &ValidationError{Index: i, Kind: r.Kind, Reason: "duplicate kind"}
		}
		seen[r.Kind] = true

		if r.Match == "" {
			r.Match = MatchIgnore
		}
		if r.Priority == "" {
			r.Priority = message.PriorityNormal
		}
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(strings.TrimSpace(k))
		}
		r.Keywords = kw
		r.Phases = append([]phase.Phase(nil), r.Phases...)
		out = append(out, r)
	}
	return &Engine{rules: out}, nil
}

// NewDefaultEngine builds an engine from DefaultRules.
func NewDefaultEngine(silence time.Duration) *Engine {
	e, err := NewEngine(DefaultRules(silence))
	if err != nil {
		panic(err)
	}
	return e
}

// Rules returns a copy of the rule list in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Check returns the directive of the first rule whose conditions hold.
func (e *Engine) Check(in Input, scores map[string]float64) (Directive, bool) {
	text := strings.ToLower(in.Utterance)
	for _, r := range e.rules {
		if d, ok := r.evaluate(in, text, scores); ok {
			return d, true
		}
	}
	return Directive{}, false
}

func (r Rule) appliesTo(p phase.Phase) bool {
	if len(r.Phases) == 0 {
		return true
	}
	for _, rp := range r.Phases {
		if rp == p {
			return true
		}
	}
	return false
}

func (r Rule) evaluate(in Input, text string, scores map[string]float64) (Directive, bool) {
	if !r.appliesTo(in.Phase) {
		return Directive{}, false
	}

	ctx := map[string]any{"phase": string(in.Phase)}

	if r.SilenceOver > 0 && in.Silence > r.SilenceOver {
		ctx["silence_seconds"] = in.Silence.Seconds()
		ctx["silence_threshold_seconds"] = r.SilenceOver.Seconds()
		return r.directive(ctx), true
	}

	switch r.Match {
	case MatchAny:
		kw, ok := firstKeyword(text, r.Keywords)
		if !ok {
			return Directive{}, false
		}
		ctx["matched_keyword"] = kw
	case MatchNone:
		if _, ok := firstKeyword(text, r.Keywords); ok {
			return Directive{}, false
		}
	}

	if r.Score != nil {
		current := scores[r.Score.Dimension]
		if current >= r.Score.Threshold {
			return Directive{}, false
		}
		ctx["dimension"] = r.Score.Dimension
		ctx["current_score"] = current
		ctx["threshold"] = r.Score.Threshold
	}

	if r.Match == MatchIgnore && r.Score == nil {
		// Silence-only rule that did not fire.
		return Directive{}, false
	}
	return r.directive(ctx), true
}

func (r Rule) directive(ctx map[string]any) Directive {
	return Directive{
		Kind:     r.Kind,
		Message:  r.Message,
		Context:  ctx,
		Priority: r.Priority,
	}
}

func firstKeyword(text string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return k, true
		}
	}
	return "", false
}
