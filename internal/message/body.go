package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

// Kind identifies a message body. The set is closed.
type Kind string

const (
	// Orchestrator to collaborators.
	KindInitializeSession Kind = "initialize_session"
	KindUpdateContext     Kind = "update_context"
	KindEvaluateResponse  Kind = "evaluate_response"
	KindGenerateFollowup  Kind = "generate_followup"
	KindIntervention      Kind = "intervention"
	KindPhaseChanged      Kind = "phase_changed"
	KindGenerateChallenge Kind = "generate_challenge"
	KindGenerateReport    Kind = "generate_report"

	// Collaborators to orchestrator.
	KindResponseScored      Kind = "response_scored"
	KindContextReady        Kind = "context_ready"
	KindQuestionGenerated   Kind = "question_generated"
	KindPhaseRecommendation Kind = "phase_recommendation"
)

// Type returns the envelope type used for k.
func (k Kind) Type() Type {
	switch k {
	case KindIntervention, KindPhaseChanged:
		return TypeNotification
	case KindResponseScored, KindContextReady, KindQuestionGenerated, KindPhaseRecommendation:
		return TypeResponse
	default:
		return TypeRequest
	}
}

// Body is a typed message payload. Only types in this package implement it.
type Body interface {
	Kind() Kind
	body()
}

// InitializeSession asks a collaborator to prepare for a new session.
type InitializeSession struct {
	UserID    string              `json:"user_id"`
	Phase     phase.Phase         `json:"phase"`
	Tier      complexity.Tier     `json:"tier"`
	Strategy  complexity.Strategy `json:"strategy"`
	Interview complexity.Context  `json:"interview"`
}

// UpdateContext hands the latest utterance to the context agent.
type UpdateContext struct {
	Utterance string      `json:"utterance"`
	Phase     phase.Phase `json:"phase"`
	Turn      int         `json:"turn"`
}

// EvaluateResponse asks the evaluator to score the latest utterance.
type EvaluateResponse struct {
	Utterance    string              `json:"utterance"`
	Phase        phase.Phase         `json:"phase"`
	Tier         complexity.Tier     `json:"tier"`
	Strategy     complexity.Strategy `json:"strategy"`
	ResponseTime time.Duration       `json:"response_time"`
}

// GenerateFollowup asks the interviewer for the next question.
type GenerateFollowup struct {
	Utterance string              `json:"utterance"`
	Phase     phase.Phase         `json:"phase"`
	Strategy  complexity.Strategy `json:"strategy"`
}

// ApplyIntervention tells the interviewer to redirect the candidate.
type ApplyIntervention struct {
	Intervention string         `json:"intervention"`
	Text         string         `json:"text"`
	Priority     Priority       `json:"priority"`
	Context      map[string]any `json:"context,omitempty"`
}

// PhaseChanged announces a committed transition.
type PhaseChanged struct {
	From    phase.Phase   `json:"from"`
	To      phase.Phase   `json:"to"`
	Trigger phase.Trigger `json:"trigger"`
}

// GenerateChallenge asks the interviewer for a stress-test question.
type GenerateChallenge struct {
	Phase    phase.Phase         `json:"phase"`
	Strategy complexity.Strategy `json:"strategy"`
}

// GenerateReport asks synthesis to produce the final report.
type GenerateReport struct {
	Scores        map[string]float64 `json:"scores,omitempty"`
	Transitions   int                `json:"transitions"`
	Interventions int                `json:"interventions"`
	Duration      time.Duration      `json:"duration"`
}

// ResponseScored carries evaluator scores per dimension.
type ResponseScored struct {
	Scores map[string]float64 `json:"scores"`
}

// ContextReady carries attributes gathered by the context agent.
type ContextReady struct {
	Attributes map[string]any `json:"attributes"`
}

// QuestionGenerated reports the question the interviewer asked.
type QuestionGenerated struct {
	Question string `json:"question"`
}

// PhaseRecommendation proposes a transition.
type PhaseRecommendation struct {
	Target phase.Phase `json:"target"`
	Reason string      `json:"reason,omitempty"`
}

func (InitializeSession) Kind() Kind   { return KindInitializeSession }
func (UpdateContext) Kind() Kind       { return KindUpdateContext }
func (EvaluateResponse) Kind() Kind    { return KindEvaluateResponse }
func (GenerateFollowup) Kind() Kind    { return KindGenerateFollowup }
func (ApplyIntervention) Kind() Kind   { return KindIntervention }
func (PhaseChanged) Kind() Kind        { return KindPhaseChanged }
func (GenerateChallenge) Kind() Kind   { return KindGenerateChallenge }
func (GenerateReport) Kind() Kind      { return KindGenerateReport }
func (ResponseScored) Kind() Kind      { return KindResponseScored }
func (ContextReady) Kind() Kind        { return KindContextReady }
func (QuestionGenerated) Kind() Kind   { return KindQuestionGenerated }
func (PhaseRecommendation) Kind() Kind { return KindPhaseRecommendation }

func (InitializeSession) body()   {}
func (UpdateContext) body()       {}
func (EvaluateResponse) body()    {}
func (GenerateFollowup) body()    {}
func (ApplyIntervention) body()   {}
func (PhaseChanged) body()        {}
func (GenerateChallenge) body()   {}
func (GenerateReport) body()      {}
func (ResponseScored) body()      {}
func (ContextReady) body()        {}
func (QuestionGenerated) body()   {}
func (PhaseRecommendation) body() {}

// Decode parses the payload of m into its typed body.
func Decode(m Message) (Body, error) {
	var b Body
	switch m.Kind {
	case KindInitializeSession:
		b = &InitializeSession{}
	case KindUpdateContext:
		b = &UpdateContext{}
	case KindEvaluateResponse:
		b = &EvaluateResponse{}
	case KindGenerateFollowup:
		b = &GenerateFollowup{}
	case KindIntervention:
		b = &ApplyIntervention{}
	case KindPhaseChanged:
		b = &PhaseChanged{}
	case KindGenerateChallenge:
		b = &GenerateChallenge{}
	case KindGenerateReport:
		b = &GenerateReport{}
	case KindResponseScored:
		b = &ResponseScored{}
	case KindContextReady:
		b = &ContextReady{}
	case KindQuestionGenerated:
		b = &QuestionGenerated{}
	case KindPhaseRecommendation:
		b = &PhaseRecommendation{}
	default:
		return nil, fmt.Errorf("decode message %s: %w: unknown kind %q", m.ID, ErrMalformed, m.Kind)
	}

	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w: %w", m.ID, ErrMalformed, err)
	}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode message %s: %w: %w", m.ID, ErrMalformed, err)
	}
	return deref(b), nil
}

func deref(b Body) Body {
	switch v := b.(type) {
	case *InitializeSession:
		return *v
	case *UpdateContext:
		return *v
	case *EvaluateResponse:
		return *v
	case *GenerateFollowup:
		return *v
	case *ApplyIntervention:
		return *v
	case *PhaseChanged:
		return *v
	case *GenerateChallenge:
		return *v
	case *GenerateReport:
		return *v
	case *ResponseScored:
		return *v
	case *ContextReady:
		return *v
	case *QuestionGenerated:
		return *v
	case *PhaseRecommendation:
		return *v
	}
	return b
}

func toPayload(b Body) map[string]any {
	data, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
