// Package phase defines the interview phase graph and semantic trigger detection.
package phase

// Phase is a named stage of an interview session.
type Phase string

const (
	// Configuring is the phase a session is created in.
	Configuring Phase = "configuring"

	// Scoping clarifies the problem statement.
	Scoping Phase = "scoping"

	// Analysis explores users, segments and pain points.
	Analysis Phase = "analysis"

	// Solutioning proposes and prioritizes solutions.
	Solutioning Phase = "solutioning"

	// Metrics defines how success is measured.
	Metrics Phase = "metrics"

	// Challenging stress-tests the candidate's answer.
	Challenging Phase = "challenging"

	// ReportGeneration produces the feedback report.
	ReportGeneration Phase = "report_generation"

	// End is terminal.
	End Phase = "end"
)

// All returns every phase in interview order.
func All() []Phase {
	return []Phase{Configuring, Scoping, Analysis, Solutioning, Metrics, Challenging, ReportGeneration, End}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case Configuring, Scoping, Analysis, Solutioning, Metrics, Challenging, ReportGeneration, End:
		return true
	}
	return false
}

func (p Phase) String() string { return string(p) }

// Trigger records why a transition happened.
type Trigger string

const (
	TriggerSessionStart  Trigger = "session_start"
	TriggerSemantic      Trigger = "semantic"
	TriggerAIRecommended Trigger = "ai_recommended"
	TriggerManual        Trigger = "manual"
	TriggerTimeout       Trigger = "timeout"
)

// Valid reports whether t is a known trigger kind.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerSessionStart, TriggerSemantic, TriggerAIRecommended, TriggerManual, TriggerTimeout:
		return true
	}
	return false
}
