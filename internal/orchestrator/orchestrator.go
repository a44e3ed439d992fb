package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/analytics"
	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/intervention"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/phase"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

// DefaultDispatchTimeout bounds a collaborator call when Options leaves it unset.
const DefaultDispatchTimeout = 5 * time.Second

// Options holds the orchestrator's dependencies. Endpoints is required.
// Every other nil field gets a working default.
type Options struct {
	Machine   *phase.Machine
	Assessor  *complexity.Assessor
	Engine    *intervention.Engine
	Breakers  *breaker.Registry
	Endpoints message.Directory
	// Fallback receives messages whose dispatch was rejected or failed.
	Fallback message.Endpoint
	Store    session.Store
	Sink     analytics.Sink
	Logger   *logging.Logger
	Metrics  *Metrics
	Tracer   trace.Tracer
	Clock    func() time.Time

	DispatchTimeout time.Duration
	// PhaseTimeout advances a phase after this long without a semantic
	// transition. Zero disables it.
	PhaseTimeout time.Duration
}

// Orchestrator coordinates interview sessions. It is safe for concurrent use.
type Orchestrator struct {
	machine   *phase.Machine
	assessor  *complexity.Assessor
	engine    *intervention.Engine
	breakers  *breaker.Registry
	endpoints message.Directory
	fallback  message.Endpoint
	store     session.Store
	sink      analytics.Sink
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time

	dispatchTimeout time.Duration
	phaseTimeout    time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
}

// entry serializes work on one session. detached entries have been removed
// from the table and must not be used.
type entry struct {
	mu       sync.Mutex
	sess     *session.Session
	detached bool
}

// New builds an orchestrator from opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Endpoints == nil {
		return nil, errors.New("orchestrator: endpoints directory is required")
	}
	o := &Orchestrator{
		machine:         opts.Machine,
		assessor:        opts.Assessor,
		engine:          opts.Engine,
		breakers:        opts.Breakers,
		endpoints:       opts.Endpoints,
		fallback:        opts.Fallback,
		store:           opts.Store,
		sink:            opts.Sink,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		now:             opts.Clock,
		dispatchTimeout: opts.DispatchTimeout,
		phaseTimeout:    opts.PhaseTimeout,
		sessions:        make(map[string]*entry),
	}
	if o.machine == nil {
		o.machine = phase.NewMachine()
	}
	if o.assessor == nil {
		o.assessor = complexity.NewAssessor(complexity.DefaultConfig())
	}
	if o.engine == nil {
		o.engine = intervention.NewDefaultEngine(intervention.DefaultSilenceThreshold)
	}
	if o.breakers == nil {
		o.breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	if o.store == nil {
		o.store = session.NewMemoryStore()
	}
	if o.sink == nil {
		o.sink = analytics.Nop{}
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	o.logger = o.logger.Named("orchestrator")
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.dispatchTimeout <= 0 {
		o.dispatchTimeout = DefaultDispatchTimeout
	}
	return o, nil
}

// StartInterview creates a session, moves it from configuring to the first
// working phase and asks every collaborator to initialize. An empty id is
// replaced by a generated one.
func (o *Orchestrator) StartInterview(ctx context.Context, id, userID string, interview complexity.Context) (*StartResult, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := logging.ValidateID(id, "session id"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	ctx = withIDs(ctx, id, userID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.StartInterview",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	e := o.lock(id)
	defer e.mu.Unlock()

	if e.sess != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if stored, err := o.store.Get(ctx, id); err == nil {
		e.sess = stored
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	} else if !errors.Is(err, session.ErrNotFound) {
		o.drop(id, e)
		return nil, spanError(span, fmt.Errorf("check session %s: %w", id, err))
	}

	now := o.now()
	tier := o.assessor.AssessInitial(interview)
	s := session.New(id, userID, interview, o.machine.Initial(), tier, now)
	first := o.machine.FirstWorking()
	if o.machine.CanTransition(s.Phase, first) {
		rec := s.Apply(first, phase.TriggerSessionStart, now)
		o.metrics.transition(string(rec.From), string(rec.To), string(rec.Trigger))
	}
	e.sess = s

	init := message.InitializeSession{
		UserID:    userID,
		Phase:     s.Phase,
		Tier:      s.Tier,
		Strategy:  s.Strategy,
		Interview: s.Context,
	}
	reqs := make([]request, 0, len(message.Collaborators()))
	for _, agent := range message.Collaborators() {
		reqs = append(reqs, request{to: agent, body: init})
	}
	dispatch := o.fanOut(ctx, id, reqs)

	o.persist(ctx, s)
	o.metrics.sessionStarted()
	o.record(ctx, s, analytics.EventSessionStarted, map[string]any{
		"interview_type": interview.InterviewType,
		"level":          interview.Level,
		"tier":           string(s.Tier),
	})
	o.logger.Info(ctx, "interview started",
		zap.String("phase", string(s.Phase)),
		zap.String("tier", string(s.Tier)),
		zap.String("strategy", string(s.Strategy)))

	span.SetAttributes(attribute.String("tier", string(s.Tier)))
	return &StartResult{
		SessionID: id,
		Phase:     s.Phase,
		Tier:      s.Tier,
		Strategy:  s.Strategy,
		Dispatch:  dispatch,
	}, nil
}

// HandleUserResponse processes one candidate turn. responseTime is the
// candidate's pause before answering; zero means measure it from the clock.
func (o *Orchestrator) HandleUserResponse(ctx context.Context, id, utterance string, responseTime time.Duration) (*TurnResult, error) {
	ctx = withIDs(ctx, id, "")
	ctx, span := o.tracer.Start(ctx, "orchestrator.HandleUserResponse",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()
	start := o.now()

	e, err := o.acquire(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}
	defer e.mu.Unlock()
	s := e.sess
	if s.Ended {
		return nil, spanError(span, fmt.Errorf("%w: %s", ErrSessionEnded, id))
	}

	now := o.now()
	silence := measureSilence(s, responseTime, now)
	s.Silence = silence
	s.LastUtterance = utterance
	s.LastUtteranceAt = now
	s.Turns++
	s.UpdatedAt = now

	if tier := o.assessor.AssessResponse(utterance); s.SetTier(tier) {
		o.logger.Debug(ctx, "complexity tier changed",
			zap.String("tier", string(s.Tier)),
			zap.String("strategy", string(s.Strategy)))
	}

	res := &TurnResult{SessionID: id, Outcome: OutcomeContinue, Silence: silence}

	if d, ok := o.engine.Check(intervention.Input{Phase: s.Phase, Utterance: utterance, Silence: silence}, s.Scores); ok {
		res.Outcome = OutcomeIntervention
		res.Directive = &d
		res.Dispatch = []DispatchResult{o.intervene(ctx, s, d, now)}
	} else {
		res.Dispatch = o.fanOut(ctx, id, []request{
			{to: message.ContextAgent, body: message.UpdateContext{Utterance: utterance, Phase: s.Phase, Turn: s.Turns}},
			{to: message.Evaluator, body: message.EvaluateResponse{
				Utterance: utterance, Phase: s.Phase, Tier: s.Tier, Strategy: s.Strategy, ResponseTime: silence,
			}},
			{to: message.Interviewer, body: message.GenerateFollowup{Utterance: utterance, Phase: s.Phase, Strategy: s.Strategy}},
		})
		if target, trigger, ok := o.propose(ctx, s, utterance, now); ok {
			res.Dispatch = append(res.Dispatch, o.commit(ctx, s, target, trigger, now)...)
			res.Outcome = OutcomeTransition
		}
	}

	res.Phase = s.Phase
	res.PreviousPhase = s.PreviousPhase
	res.Tier = s.Tier
	res.Strategy = s.Strategy

	o.persist(ctx, s)
	o.record(ctx, s, analytics.EventTurnProcessed, map[string]any{
		"outcome":         string(res.Outcome),
		"phase":           string(s.Phase),
		"tier":            string(s.Tier),
		"turn":            s.Turns,
		"silence_seconds": silence.Seconds(),
	})
	o.metrics.turn(res.Outcome, o.now().Sub(start))

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("phase", string(res.Phase)),
		attribute.String("tier", string(res.Tier)),
	)
	return res, nil
}

// EndInterview moves the session through report generation to the end,
// requests the final report and marks the session ended.
func (o *Orchestrator) EndInterview(ctx context.Context, id string) (*Summary, error) {
	ctx = withIDs(ctx, id, "")
	ctx, span := o.tracer.Start(ctx, "orchestrator.EndInterview",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	e, err := o.acquire(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}
	defer e.mu.Unlock()
	s := e.sess
	if s.Ended {
		return nil, spanError(span, fmt.Errorf("%w: %s", ErrSessionEnded, id))
	}

	now := o.now()
	var dispatch []DispatchResult
	switch {
	case s.Phase == phase.ReportGeneration:
		dispatch = append(dispatch, o.dispatch(ctx, id, request{to: message.Synthesis, body: reportRequest(s, now), priority: message.PriorityHigh}))
	case o.machine.CanTransition(s.Phase, phase.ReportGeneration):
		dispatch = append(dispatch, o.commit(ctx, s, phase.ReportGeneration, phase.TriggerManual, now)...)
	default:
		o.metrics.illegal(string(s.Phase), string(phase.ReportGeneration))
		return nil, spanError(span, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Phase, phase.ReportGeneration))
	}
	if o.machine.CanTransition(s.Phase, phase.End) {
		dispatch = append(dispatch, o.commit(ctx, s, phase.End, phase.TriggerManual, now)...)
	}

	s.Ended = true
	s.EndedAt = now
	s.UpdatedAt = now
	o.persist(ctx, s)
	o.metrics.sessionEnded()

	sum := &Summary{
		SessionID:     id,
		Duration:      s.Duration(now),
		Scores:        copyScores(s.Scores),
		Turns:         s.Turns,
		Transitions:   len(s.Transitions),
		Interventions: len(s.Interventions),
		Dispatch:      dispatch,
	}
	o.record(ctx, s, analytics.EventSessionEnded, map[string]any{
		"duration_seconds": sum.Duration.Seconds(),
		"turns":            sum.Turns,
		"transitions":      sum.Transitions,
		"interventions":    sum.Interventions,
	})
	o.logger.Info(ctx, "interview ended",
		zap.Duration("duration", sum.Duration),
		zap.Int("turns", sum.Turns),
		zap.Int("interventions", sum.Interventions))
	return sum, nil
}

// Transition commits a manual or AI-recommended phase change. An undeclared
// edge returns ErrIllegalTransition and leaves the session unchanged.
func (o *Orchestrator) Transition(ctx context.Context, id string, target phase.Phase, trigger phase.Trigger) (*TurnResult, error) {
	ctx = withIDs(ctx, id, "")
	ctx, span := o.tracer.Start(ctx, "orchestrator.Transition", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("target", string(target)),
		attribute.String("trigger", string(trigger)),
	))
	defer span.End()

	if !trigger.Valid() {
		return nil, spanError(span, fmt.Errorf("%w: unknown trigger %q", ErrIllegalTransition, trigger))
	}

	e, err := o.acquire(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}
	defer e.mu.Unlock()
	s := e.sess
	if s.Ended {
		return nil, spanError(span, fmt.Errorf("%w: %s", ErrSessionEnded, id))
	}
	if !o.machine.CanTransition(s.Phase, target) {
		o.metrics.illegal(string(s.Phase), string(target))
		return nil, spanError(span, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Phase, target))
	}

	now := o.now()
	dispatch := o.commit(ctx, s, target, trigger, now)
	if o.machine.IsTerminal(s.Phase) {
		s.Ended = true
		s.EndedAt = now
		o.metrics.sessionEnded()
	}
	o.persist(ctx, s)

	return &TurnResult{
		SessionID:     id,
		Outcome:       OutcomeTransition,
		Phase:         s.Phase,
		PreviousPhase: s.PreviousPhase,
		Tier:          s.Tier,
		Strategy:      s.Strategy,
		Dispatch:      dispatch,
	}, nil
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Status, error) {
	e, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	now := o.now()
	s := e.sess.Clone()
	st := &Status{
		Session:       s,
		Duration:      s.Duration(now),
		Transitions:   len(s.Transitions),
		Interventions: len(s.Interventions),
	}
	if !s.Ended {
		st.TimeInPhase = now.Sub(s.PhaseEnteredAt)
	}
	return st, nil
}

// Evict drops a session from memory. The stored copy is kept. It reports
// whether the session was resident.
func (o *Orchestrator) Evict(id string) bool {
	o.mu.Lock()
	e, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	resident := e.sess != nil && !e.detached
	o.detach(id, e)
	return resident
}

// Sweep evicts sessions that ended more than olderThan ago and returns how
// many were evicted.
func (o *Orchestrator) Sweep(olderThan time.Duration) int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	now := o.now()
	n := 0
	for _, id := range ids {
		o.mu.Lock()
		e, ok := o.sessions[id]
		o.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.detached || e.sess == nil || !e.sess.Ended || now.Sub(e.sess.EndedAt) < olderThan {
			e.mu.Unlock()
			continue
		}
		o.detach(id, e)
		n++
	}
	return n
}

// Resident returns the number of sessions held in memory.
func (o *Orchestrator) Resident() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// lock returns the locked entry for id, creating an empty one if needed.
func (o *Orchestrator) lock(id string) *entry {
	for {
		o.mu.Lock()
		e, ok := o.sessions[id]
		if !ok {
			e = &entry{}
			o.sessions[id] = e
		}
		o.mu.Unlock()

		e.mu.Lock()
		if !e.detached {
			return e
		}
		e.mu.Unlock()
	}
}

// intervene records d on s and sends it to the interviewer.
func (o *Orchestrator) intervene(ctx context.Context, s *session.Session, d intervention.Directive, now time.Time) DispatchResult {
	s.Record(d, now)
	res := o.dispatch(ctx, s.ID, request{
		to: message.Interviewer,
		body: message.ApplyIntervention{
			Intervention: string(d.Kind),
			Text:         d.Message,
			Priority:     d.Priority,
			Context:      d.Context,
		},
		priority: d.Priority,
	})
	o.metrics.intervention(string(d.Kind))
	o.record(ctx, s, analytics.EventInterventionFired, map[string]any{
		"kind":  string(d.Kind),
		"phase": string(s.Phase),
	})
	o.logger.Info(ctx, "intervention issued",
		zap.String("kind", string(d.Kind)),
		zap.String("phase", string(s.Phase)))
	return res
}

// acquire returns the locked entry for an existing session, loading it from
// the store on a miss.
func (o *Orchestrator) acquire(ctx context.Context, id string) (*entry, error) {
	if err := logging.ValidateID(id, "session id"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	e := o.lock(id)
	if e.sess != nil {
		return e, nil
	}
	s, err := o.store.Get(ctx, id)
	if err != nil {
		o.detach(id, e)
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	e.sess = s
	return e, nil
}

// detach removes a locked entry from the table and unlocks it.
func (o *Orchestrator) detach(id string, e *entry) {
	o.drop(id, e)
	e.mu.Unlock()
}

// drop removes a locked entry from the table. The caller still holds e.mu.
func (o *Orchestrator) drop(id string, e *entry) {
	e.detached = true
	o.mu.Lock()
	if o.sessions[id] == e {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
}

// propose returns the transition this turn should commit, if any.
func (o *Orchestrator) propose(ctx context.Context, s *session.Session, utterance string, now time.Time) (phase.Phase, phase.Trigger, bool) {
	if target, ok := o.machine.DetectSemanticTransition(s.Phase, utterance); ok {
		if o.machine.CanTransition(s.Phase, target) {
			return target, phase.TriggerSemantic, true
		}
		o.metrics.illegal(string(s.Phase), string(target))
		o.logger.Warn(ctx, "ignoring illegal semantic transition",
			zap.String("from", string(s.Phase)),
			zap.String("to", string(target)))
	}
	if o.phaseTimeout > 0 && now.Sub(s.PhaseEnteredAt) > o.phaseTimeout {
		if next := o.machine.Successors(s.Phase); len(next) > 0 {
			return next[0], phase.TriggerTimeout, true
		}
	}
	return "", "", false
}

// commit applies a legal transition and notifies the collaborators.
func (o *Orchestrator) commit(ctx context.Context, s *session.Session, target phase.Phase, trigger phase.Trigger, now time.Time) []DispatchResult {
	rec := s.Apply(target, trigger, now)
	o.metrics.transition(string(rec.From), string(rec.To), string(rec.Trigger))
	o.logger.Info(ctx, "phase transition",
		zap.String("from", string(rec.From)),
		zap.String("to", string(rec.To)),
		zap.String("trigger", string(rec.Trigger)),
		zap.Duration("elapsed", rec.Elapsed))
	o.record(ctx, s, analytics.EventPhaseTransition, map[string]any{
		"from":            string(rec.From),
		"to":              string(rec.To),
		"trigger":         string(rec.Trigger),
		"elapsed_seconds": rec.Elapsed.Seconds(),
	})

	changed := message.PhaseChanged{From: rec.From, To: rec.To, Trigger: rec.Trigger}
	reqs := make([]request, 0, len(message.Collaborators())+1)
	for _, agent := range message.Collaborators() {
		reqs = append(reqs, request{to: agent, body: changed})
	}
	switch target {
	case phase.Challenging:
		reqs = append(reqs, request{to: message.Interviewer, body: message.GenerateChallenge{Phase: target, Strategy: s.Strategy}})
	case phase.ReportGeneration:
		reqs = append(reqs, request{to: message.Synthesis, body: reportRequest(s, now), priority: message.PriorityHigh})
	}
	return o.fanOut(ctx, s.ID, reqs)
}

// persist saves a snapshot. Failures are logged and counted, never returned.
func (o *Orchestrator) persist(ctx context.Context, s *session.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.dispatchTimeout)
	defer cancel()
	if err := o.store.Put(ctx, s); err != nil {
		o.metrics.persistFailed()
		o.logger.Error(ctx, "failed to persist session", zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, s *session.Session, typ analytics.EventType, attrs map[string]any) {
	o.sink.Record(ctx, analytics.Event{
		Type:       typ,
		SessionID:  s.ID,
		UserID:     s.UserID,
		Timestamp:  o.now(),
		Attributes: attrs,
	})
}

// measureSilence returns the pause before this turn: responseTime when
// given, otherwise the time since the most recent of the last question, the
// last utterance and phase entry.
func measureSilence(s *session.Session, responseTime time.Duration, now time.Time) time.Duration {
	if responseTime > 0 {
		return responseTime
	}
	ref := s.PhaseEnteredAt
	for _, t := range []time.Time{s.LastQuestionAt, s.LastUtteranceAt} {
		if t.After(ref) {
			ref = t
		}
	}
	if d := now.Sub(ref); d > 0 {
		return d
	}
	return 0
}

func reportRequest(s *session.Session, now time.Time) message.GenerateReport {
	return message.GenerateReport{
		Scores:        copyScores(s.Scores),
		Transitions:   len(s.Transitions),
		Interventions: len(s.Interventions),
		Duration:      s.Duration(now),
	}
}

func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// withIDs adds correlation ids to ctx when they are well formed.
func withIDs(ctx context.Context, sessionID, userID string) context.Context {
	if logging.ValidateID(sessionID, "session id") == nil {
		ctx = logging.WithSessionID(ctx, sessionID)
	}
	if userID != "" && logging.ValidateID(userID, "user id") == nil {
		ctx = logging.WithUserID(ctx, userID)
	}
	return ctx
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
