package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

var (
	// ErrSessionNotFound means no session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when starting a session id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionEnded is returned for mutations of an ended session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrIllegalTransition is returned by Transition for an undeclared edge.
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrInvalidSessionID rejects empty or malformed session ids.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrUnexpectedMessage rejects inbound kinds the orchestrator does not consume.
	ErrUnexpectedMessage = errors.New("unexpected inbound message")
)

// Outcome classifies a processed turn.
type Outcome string

const (
	OutcomeContinue     Outcome = "continue_current_phase"
	OutcomeTransition   Outcome = "transition"
	OutcomeIntervention Outcome = "intervention"
)

// DispatchResult reports one collaborator call.
type DispatchResult struct {
	Agent message.Agent `json:"agent"`
	Kind  message.Kind  `json:"kind"`
	// Fallback is set when the call was diverted to the fallback endpoint.
	Fallback bool  `json:"fallback"`
	Err      error `json:"-"`
}

// Failed reports whether the message was neither delivered nor diverted.
func (d DispatchResult) Failed() bool { return d.Err != nil }

// TurnResult is the outcome of a turn or an explicit transition.
type TurnResult struct {
	SessionID     string                  `json:"session_id"`
	Outcome       Outcome                 `json:"outcome"`
	Phase         phase.Phase             `json:"phase"`
	PreviousPhase phase.Phase             `json:"previous_phase,omitempty"`
	Tier          complexity.Tier         `json:"tier"`
	Strategy      complexity.Strategy     `json:"strategy"`
	Directive     *intervention.Directive `json:"directive,omitempty"`
	Silence       time.Duration           `json:"silence"`
	Dispatch      []DispatchResult        `json:"dispatch"`
}

// StartResult describes a newly started session.
type StartResult struct {
	SessionID string              `json:"session_id"`
	Phase     phase.Phase         `json:"phase"`
	Tier      complexity.Tier     `json:"tier"`
	Strategy  complexity.Strategy `json:"strategy"`
	Dispatch  []DispatchResult    `json:"dispatch"`
}

// Summary describes an ended session.
type Summary struct {
	SessionID     string             `json:"session_id"`
	Duration      time.Duration      `json:"duration"`
	Scores        map[string]float64 `json:"scores"`
	Turns         int                `json:"turns"`
	Transitions   int                `json:"transitions"`
	Interventions int                `json:"interventions"`
	Dispatch      []DispatchResult   `json:"dispatch"`
}

// Status is a point-in-time view of a session.
type Status struct {
	Session       *session.Session `json:"session"`
	Duration      time.Duration    `json:"duration"`
	TimeInPhase   time.Duration    `json:"time_in_phase"`
	Transitions   int              `json:"transitions"`
	Interventions int              `json:"interventions"`
}
