package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
)

func TestLoggingConfig(t *testing.T) {
	lc, err := loggingConfig(config.LoggingConfig{Level: "debug", Format: "console", Stdout: true, Redaction: true})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.False(t, lc.Sampling.Enabled)
	assert.True(t, lc.Redaction.Enabled)
	assert.NoError(t, lc.Validate())

	_, err = loggingConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestComplexityConfig(t *testing.T) {
	cc := complexityConfig(config.ComplexityConfig{
		LevelWeights:    map[string]float64{"staff": 1.5},
		MediumWords:     50,
		VeryHighMarkers: 5,
	})
	assert.Equal(t, map[string]float64{"staff": 1.5}, cc.LevelWeights)
	assert.Equal(t, 50, cc.MediumWords)
	assert.Equal(t, 5, cc.VeryHighMarkers)
	assert.Equal(t, complexity.DefaultConfig().VeryHighWords, cc.VeryHighWords)

	cc = complexityConfig(config.ComplexityConfig{})
	assert.Equal(t, complexity.DefaultConfig().VeryHighMarkers, cc.VeryHighMarkers)
	assert.Equal(t, complexity.DefaultConfig().HighWords, cc.HighWords)
	assert.Equal(t, complexity.DefaultConfig().DomainWeights, cc.DomainWeights)
}

func TestBreakerConfig(t *testing.T) {
	bc := breakerConfig(config.Default().Breaker)
	assert.Equal(t, 5, bc.FailureThreshold)
	assert.Equal(t, time.Minute, bc.ResetTimeout)
	assert.Equal(t, 3, bc.HalfOpenRequests)
	assert.Equal(t, 5*time.Minute, bc.MonitoringWindow)
}

func TestInterventionEngine(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e, err := interventionEngine(config.Default().Intervention)
		require.NoError(t, err)
		assert.Len(t, e.Rules(), len(intervention.DefaultRules(0)))
	})

	t.Run("configured rules", func(t *testing.T) {
		e, err := interventionEngine(config.InterventionConfig{Rules: []config.RuleConfig{{
			Kind:           "ask_for_numbers",
			Phases:         []string{"metrics"},
			Keywords:       []string{"more", "higher"},
			Match:          "any",
			ScoreDimension: "Success Metrics",
			ScoreThreshold: 2,
			Message:        "Can you put a number on that?",
			Priority:       "high",
		}}})
		require.NoError(t, err)

		d, ok := e.Check(intervention.Input{Phase: phase.Metrics, Utterance: "We want more sign-ups"}, nil)
		require.True(t, ok)
		assert.Equal(t, intervention.Kind("ask_for_numbers"), d.Kind)
		assert.Equal(t, message.PriorityHigh, d.Priority)
	})

	t.Run("invalid rule", func(t *testing.T) {
		_, err := interventionEngine(config.InterventionConfig{Rules: []config.RuleConfig{{
			Kind: "broken", Phases: []string{"lunch"}, Message: "x", Match: "any", Keywords: []string{"a"},
		}}})
		assert.Error(t, err)
	})
}

func disabledTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig(), nil)
	require.NoError(t, err)
	return tel
}

func TestBuildApp_LocalMailboxes(t *testing.T) {
	cfg := config.Default()
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logging.Nop(), disabledTelemetry(t), nil)
	require.NoError(t, err)
	defer a.Close()
	require.Len(t, a.mailboxes, len(message.Collaborators()))

	res, err := a.orch.StartInterview(ctx, "sess-1", "user-1", complexity.Context{InterviewType: "Behavioral", Level: "L4"})
	require.NoError(t, err)
	for _, d := range res.Dispatch {
		assert.False(t, d.Failed())
		assert.False(t, d.Fallback)
	}
	assert.Zero(t, a.dead.Len())

	mfs, err := a.registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["coachd_orchestrator_active_sessions"])
	assert.True(t, names["go_goroutines"])
}

func startJetStreamServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestBuildApp_NATS(t *testing.T) {
	server := startJetStreamServer(t)

	cfg := config.Default()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = server.ClientURL()
	cfg.Store.Backend = "nats"
	require.NoError(t, cfg.Validate())

	nc, err := connectNATS(cfg.NATS, zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	// Stand-in collaborators.
	received := make(chan *nats.Msg, 16)
	_, err = nc.ChanSubscribe(cfg.NATS.SubjectPrefix+".evaluator.>", received)
	require.NoError(t, err)
	analytics := make(chan *nats.Msg, 16)
	_, err = nc.ChanSubscribe(cfg.Analytics.Subject+".>", analytics)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg, logging.Nop(), disabledTelemetry(t), nc)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.orch.StartInterview(ctx, "sess-n", "user-1", complexity.Context{InterviewType: "Product Sense", Level: "L5"})
	require.NoError(t, err)

	select {
	case m := <-received:
		var msg message.Message
		require.NoError(t, json.Unmarshal(m.Data, &msg))
		assert.Equal(t, message.KindInitializeSession, msg.Kind)
	case <-ctx.Done():
		t.Fatal("evaluator never received initialize_session")
	}
	select {
	case <-analytics:
	case <-ctx.Done():
		t.Fatal("no analytics event published")
	}

	reply := message.New(message.Evaluator, message.Orchestrator, "sess-n", message.ResponseScored{
		Scores: map[string]float64{"Success Metrics": 3.5},
	})
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, nc.Publish(cfg.NATS.SubjectPrefix+".orchestrator."+string(reply.Kind), data))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool {
		st, err := a.orch.Status(ctx, "sess-n")
		return err == nil && st.Session.Scores["Success Metrics"] == 3.5
	}, 5*time.Second, 20*time.Millisecond)

	// The session survives a restart through the KV bucket.
	b, err := buildApp(ctx, cfg, logging.Nop(), disabledTelemetry(t), nc)
	require.NoError(t, err)
	defer b.Close()
	_, err = b.orch.StartInterview(ctx, "sess-n", "user-1", complexity.Context{})
	assert.ErrorIs(t, err, orchestrator.ErrSessionExists)
}

func TestRunHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"degraded","version":"1.0.0","breakers":{"failed":["evaluator-evaluate_response"],"degraded":[]}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runHealth(&out, srv.URL)
	assert.ErrorContains(t, err, "degraded")
	assert.Contains(t, out.String(), "Version: 1.0.0")
	assert.Contains(t, out.String(), "open:     evaluator-evaluate_response")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestMonitorCommand(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"monitor"})
	require.NoError(t, err)
	assert.Equal(t, "monitor", cmd.Name())
	assert.Equal(t, "2s", cmd.Flags().Lookup("interval").DefValue)
	assert.Equal(t, "http://127.0.0.1:9191", cmd.Flags().Lookup("server").DefValue)
}
