package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coachd/internal/analytics"
	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
)

const orchestratorInstrumentation = "github.com/fyrsmithlabs/coachd/internal/orchestrator"

// loggingConfig maps the daemon's logging section onto the logger config.
func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	lvl, err := logging.LevelFromString(c.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = lvl
	lc.Format = c.Format
	lc.Output = logging.OutputConfig{Stdout: c.Stdout, OTEL: c.OTEL}
	lc.Sampling.Enabled = c.Sampling
	lc.Redaction.Enabled = c.Redaction
	return lc, nil
}

func complexityConfig(c config.ComplexityConfig) complexity.Config {
	cc := complexity.DefaultConfig()
	if len(c.DomainWeights) > 0 {
		cc.DomainWeights = c.DomainWeights
	}
	if len(c.LevelWeights) > 0 {
		cc.LevelWeights = c.LevelWeights
	}
	if len(c.TechnicalMarkers) > 0 {
		cc.TechnicalMarkers = c.TechnicalMarkers
	}
	if c.MediumWords > 0 {
		cc.MediumWords = c.MediumWords
	}
	if c.HighWords > 0 {
		cc.HighWords = c.HighWords
	}
	if c.VeryHighWords > 0 {
		cc.VeryHighWords = c.VeryHighWords
	}
	if c.VeryHighMarkers > 0 {
		cc.VeryHighMarkers = c.VeryHighMarkers
	}
	return cc
}

func breakerConfig(c config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     c.ResetTimeout.Duration(),
		HalfOpenRequests: c.HalfOpenRequests,
		MonitoringWindow: c.MonitoringWindow.Duration(),
	}
}

// interventionEngine builds the default rules, or the configured list when
// one is given.
func interventionEngine(c config.InterventionConfig) (*intervention.Engine, error) {
	silence := c.SilenceThreshold.Duration()
	if len(c.Rules) == 0 {
		return intervention.NewDefaultEngine(silence), nil
	}
	rules := make([]intervention.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r := intervention.Rule{
			Kind:        intervention.Kind(rc.Kind),
			Keywords:    rc.Keywords,
			Match:       intervention.Match(rc.Match),
			SilenceOver: rc.SilenceOver.Duration(),
			Message:     rc.Message,
			Priority:    message.Priority(rc.Priority),
		}
		for _, p := range rc.Phases {
			r.Phases = append(r.Phases, phase.Phase(p))
		}
		if rc.ScoreDimension != "" {
			r.Score = &intervention.ScoreBelow{Dimension: rc.ScoreDimension, Threshold: rc.ScoreThreshold}
		}
		rules = append(rules, r)
	}
	return intervention.NewEngine(rules)
}

// connectNATS dials the configured server.
func connectNATS(c config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("coachd"),
		nats.Timeout(c.ConnectWait.Duration()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.Token.IsSet() {
		opts = append(opts, nats.Token(c.Token.Value()))
	}
	nc, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", c.URL, err)
	}
	return nc, nil
}

// app holds the wired daemon.
type app struct {
	orch      *orchestrator.Orchestrator
	breakers  *breaker.Registry
	registry  *prometheus.Registry
	dead      *message.DeadLetter
	mailboxes []*message.Mailbox
	subs      []*nats.Subscription
}

// Close stops the local mailboxes and NATS subscriptions.
func (a *app) Close() {
	for _, s := range a.subs {
		_ = s.Unsubscribe()
	}
	for _, mb := range a.mailboxes {
		mb.Close()
	}
}

// buildApp wires the orchestrator and its collaborators. nc may be nil when
// NATS is disabled.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry, nc *nats.Conn) (*app, error) {
	z := logger.Underlying()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		registry: reg,
		dead:     message.NewDeadLetter(cfg.Orchestrator.DeadLetterLimit),
	}
	a.breakers = breaker.NewRegistry(breakerConfig(cfg.Breaker),
		breaker.WithLogger(z.Named("breaker")),
		breaker.WithMetrics(breaker.NewMetrics(reg)),
	)

	engine, err := interventionEngine(cfg.Intervention)
	if err != nil {
		return nil, fmt.Errorf("invalid intervention rules: %w", err)
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.Store.Backend == "nats" {
		kv, err := session.NewKVStore(ctx, nc, session.KVConfig{
			Bucket:   cfg.Store.Bucket,
			TTL:      cfg.Store.TTL.Duration(),
			Replicas: cfg.Store.Replicas,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		store = kv
	}

	sinks := analytics.Multi{}
	if cfg.Analytics.Enabled {
		sinks = append(sinks, analytics.NewLogSink(z.Named("analytics")))
		if nc != nil {
			sinks = append(sinks, analytics.NewNATSSink(nc, cfg.Analytics.Subject,
				cfg.Analytics.PerSecond, cfg.Analytics.Burst, z.Named("analytics")))
		}
	}

	var endpoints message.Directory
	var transport *message.NATSTransport
	if nc != nil {
		opts := []message.NATSOption{
			message.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			message.WithNATSLogger(z.Named("transport")),
		}
		if cfg.NATS.RequireAck {
			opts = append(opts, message.WithAck())
		}
		transport = message.NewNATSTransport(nc, opts...)
		endpoints = transport
	} else {
		routes := message.Routes{}
		for _, agent := range message.Collaborators() {
			mb := message.NewMailbox(agent, cfg.Mailbox.Capacity, logDelivery(z.Named("collaborator")), z.Named("mailbox"))
			mb.Start(ctx)
			a.mailboxes = append(a.mailboxes, mb)
			routes[agent] = mb
		}
		endpoints = routes
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Assessor:        complexity.NewAssessor(complexityConfig(cfg.Complexity)),
		Engine:          engine,
		Breakers:        a.breakers,
		Endpoints:       endpoints,
		Fallback:        a.dead,
		Store:           store,
		Sink:            sinks,
		Logger:          logger,
		Metrics:         orchestrator.NewMetrics(reg),
		Tracer:          tel.Tracer(orchestratorInstrumentation),
		DispatchTimeout: cfg.Orchestrator.DispatchTimeout.Duration(),
		PhaseTimeout:    cfg.Orchestrator.PhaseTimeout.Duration(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if transport != nil {
		sub, err := transport.Subscribe(message.Orchestrator, a.orch.HandleMessage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.subs = append(a.subs, sub)
	}
	return a, nil
}

// logDelivery stands in for collaborators that are not deployed.
func logDelivery(logger *zap.Logger) message.Handler {
	return func(_ context.Context, msg message.Message) error {
		if ce := logger.Check(zapcore.DebugLevel, "collaborator message"); ce != nil {
			ce.Write(
				zap.String("to", string(msg.To)),
				zap.String("kind", string(msg.Kind)),
				zap.String("session.id", msg.SessionID),
				zap.String("priority", string(msg.Priority)),
			)
		}
		return nil
	}
}

// sweepLoop evicts ended sessions until ctx ends.
func sweepLoop(ctx context.Context, orch *orchestrator.Orchestrator, after time.Duration, logger *zap.Logger) {
	if after <= 0 {
		return
	}
	interval := after / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orch.Sweep(after); n > 0 {
				logger.Debug("evicted ended sessions", zap.Int("count", n))
			}
		}
	}
}
