package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

func discard() message.Routes {
	r := message.Routes{}
	for _, a := range message.Collaborators() {
		r[a] = message.EndpointFunc(func(context.Context, message.Message) error { return nil })
	}
	return r
}

func setupTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	orch, err := orchestrator.New(orchestrator.Options{Endpoints: discard(), Breakers: breakers})
	require.NoError(t, err)

	server, err := NewServer(orch, breakers, zap.NewNop(), &Config{Host: "localhost", Port: 9191, Version: "test"}, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, s *Server, id string) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/sessions", StartRequest{
		SessionID: id, InterviewType: "Product Sense", Level: "L5",
	}, HeaderUserID, "user-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNewServer(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	orch, err := orchestrator.New(orchestrator.Options{Endpoints: discard()})
	require.NoError(t, err)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(orch, breakers, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(orch, breakers, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when coach is nil", func(t *testing.T) {
		_, err := NewServer(nil, breakers, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "coach cannot be nil")
	})

	t.Run("returns error when breakers are nil", func(t *testing.T) {
		_, err := NewServer(orch, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "breaker registry")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Zero(t, resp.Sessions)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSessionLifecycle(t *testing.T) {
	server := setupTestServer(t)
	startSession(t, server, "sess-1")

	rec := do(t, server, http.MethodPost, "/api/v1/sessions/sess-1/responses", ResponseRequest{
		Utterance: "I want to understand the problem first.", ResponseTimeMS: 1500,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var turn orchestrator.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, orchestrator.OutcomeTransition, turn.Outcome)
	assert.Equal(t, phase.Analysis, turn.Phase)

	rec = do(t, server, http.MethodPost, "/api/v1/sessions/sess-1/transitions", TransitionRequest{Target: "challenging"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, server, http.MethodGet, "/api/v1/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, phase.Challenging, st.Session.Phase)
	assert.Equal(t, 1, st.Session.Turns)

	rec = do(t, server, http.MethodPost, "/api/v1/sessions/sess-1/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum orchestrator.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "sess-1", sum.SessionID)
	assert.Equal(t, 1, sum.Turns)

	rec = do(t, server, http.MethodPost, "/api/v1/sessions/sess-1/end", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStart_Validation(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name    string
		body    any
		headers []string
		want    int
	}{
		{"missing user", StartRequest{InterviewType: "Behavioral", Level: "L4"}, nil, http.StatusBadRequest},
		{"bad user", StartRequest{InterviewType: "Behavioral", Level: "L4"}, []string{HeaderUserID, "a b"}, http.StatusBadRequest},
		{"missing level", StartRequest{InterviewType: "Behavioral"}, []string{HeaderUserID, "u1"}, http.StatusBadRequest},
		{"bad session id", StartRequest{SessionID: "no/pe", InterviewType: "Behavioral", Level: "L4"}, []string{HeaderUserID, "u1"}, http.StatusBadRequest},
		{"generated id", StartRequest{InterviewType: "Behavioral", Level: "L4"}, []string{HeaderUserID, "u1"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/api/v1/sessions", tt.body, tt.headers...)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	startSession(t, server, "dup")
	rec := do(t, server, http.MethodPost, "/api/v1/sessions", StartRequest{
		SessionID: "dup", InterviewType: "Behavioral", Level: "L4",
	}, HeaderUserID, "u1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	server := setupTestServer(t)
	startSession(t, server, "sess-2")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/v1/sessions/ghost", nil, http.StatusNotFound},
		{"invalid session id", http.MethodGet, "/api/v1/sessions/bad.id", nil, http.StatusBadRequest},
		{"turn on unknown session", http.MethodPost, "/api/v1/sessions/ghost/responses", ResponseRequest{Utterance: "hi"}, http.StatusNotFound},
		{"empty utterance", http.MethodPost, "/api/v1/sessions/sess-2/responses", ResponseRequest{}, http.StatusBadRequest},
		{"negative response time", http.MethodPost, "/api/v1/sessions/sess-2/responses", ResponseRequest{Utterance: "hi", ResponseTimeMS: -1}, http.StatusBadRequest},
		{"unknown phase", http.MethodPost, "/api/v1/sessions/sess-2/transitions", TransitionRequest{Target: "lunch"}, http.StatusBadRequest},
		{"illegal edge", http.MethodPost, "/api/v1/sessions/sess-2/transitions", TransitionRequest{Target: "metrics"}, http.StatusConflict},
		{"unknown trigger", http.MethodPost, "/api/v1/sessions/sess-2/transitions", TransitionRequest{Target: "analysis", Trigger: "whim"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleMessage(t *testing.T) {
	server := setupTestServer(t)
	startSession(t, server, "sess-3")

	msg := message.New(message.Evaluator, message.Orchestrator, "sess-3", message.ResponseScored{
		Scores: map[string]float64{"Success Metrics": 4},
	})
	rec := do(t, server, http.MethodPost, "/api/v1/messages", msg)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, server, http.MethodGet, "/api/v1/sessions/sess-3", nil)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 4.0, st.Session.Scores["Success Metrics"])

	out := message.New(message.Orchestrator, message.Interviewer, "sess-3", message.GenerateFollowup{Utterance: "x"})
	rec = do(t, server, http.MethodPost, "/api/v1/messages", out)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	malformed := message.Message{ID: "m1", Kind: message.KindResponseScored, SessionID: "sess-3",
		Payload: map[string]any{"scores": "high"}}
	rec = do(t, server, http.MethodPost, "/api/v1/messages", malformed)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	badID := message.New(message.Evaluator, message.Orchestrator, "not a key*", message.ResponseScored{})
	rec = do(t, server, http.MethodPost, "/api/v1/messages", badID)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

// brokenStore fails every load.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*session.Session, error) {
	return nil, errors.New("bucket unavailable")
}

func (brokenStore) Put(context.Context, *session.Session) error { return nil }

func TestHandleMessage_StoreFailure(t *testing.T) {
	orch, err := orchestrator.New(orchestrator.Options{Endpoints: discard(), Store: brokenStore{}})
	require.NoError(t, err)
	server, err := NewServer(orch, breaker.NewRegistry(breaker.DefaultConfig()), zap.NewNop(), &Config{Host: "localhost", Port: 9191, Version: "test"})
	require.NoError(t, err)

	msg := message.New(message.Evaluator, message.Orchestrator, "sess-9", message.ResponseScored{})
	rec := do(t, server, http.MethodPost, "/api/v1/messages", msg)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bucket unavailable")

	rec = do(t, server, http.MethodGet, "/api/v1/sessions/sess-9", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	server := setupTestServer(t)
	startSession(t, server, "sess-4")

	rec := do(t, server, http.MethodGet, "/api/v1/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []breaker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Len(t, stats, 4, "one breaker per collaborator for initialize_session")

	rec = do(t, server, http.MethodPost, "/api/v1/breakers/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var h breaker.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Len(t, h.Failed, 4)

	rec = do(t, server, http.MethodGet, "/health", nil)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)

	rec = do(t, server, http.MethodPost, "/api/v1/breakers/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Empty(t, h.Failed)
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	breaker.NewMetrics(reg)
	server := setupTestServer(t, WithPrometheus(reg))

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}
