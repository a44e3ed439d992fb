package http

import (
	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/complexity"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Sessions int            `json:"sessions"`
	Breakers breaker.Health `json:"breakers"`
}

// StartRequest is the request body for POST /api/v1/sessions.
type StartRequest struct {
	SessionID      string         `json:"session_id,omitempty"`
	InterviewType  string         `json:"interview_type"`
	Level          string         `json:"level"`
	JobTitle       string         `json:"job_title,omitempty"`
	JobDescription string         `json:"job_description,omitempty"`
	TargetSkills   []string       `json:"target_skills,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

func (r StartRequest) context() complexity.Context {
	return complexity.Context{
		InterviewType:  r.InterviewType,
		Level:          r.Level,
		JobTitle:       r.JobTitle,
		JobDescription: r.JobDescription,
		TargetSkills:   r.TargetSkills,
		Attributes:     r.Attributes,
	}
}

// ResponseRequest is the request body for POST /api/v1/sessions/:id/responses.
type ResponseRequest struct {
	Utterance string `json:"utterance"`
	// ResponseTimeMS is the candidate's pause before answering. Zero lets
	// the server measure it.
	ResponseTimeMS int64 `json:"response_time_ms,omitempty"`
}

// TransitionRequest is the request body for POST /api/v1/sessions/:id/transitions.
type TransitionRequest struct {
	Target  string `json:"target"`
	Trigger string `json:"trigger,omitempty"`
}
