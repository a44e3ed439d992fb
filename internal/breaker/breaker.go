// Package breaker guards calls to collaborators with per-key circuit breakers.
//
// A breaker starts CLOSED. It opens when consecutive failures, or failures
// inside the monitoring window, reach the threshold. While OPEN every call
// takes the fallback. After the reset timeout the next call moves the breaker
// to HALF_OPEN and is let through as a trial. Enough successful trials close
// it again. Any trial failure reopens it.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

var (
	// ErrOpen is the cause handed to the fallback when the breaker rejects a call.
	ErrOpen = errors.New("circuit breaker open")

	// ErrTimeout is the cause recorded when a call exceeds its timeout.
	ErrTimeout = errors.New("call timed out")

	// ErrNoFallback is returned by a nil fallback.
	ErrNoFallback = errors.New("no fallback configured")
)

// Config tunes a breaker.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenRequests int
	MonitoringWindow time.Duration
	// CallTimeout bounds each call when no per-call timeout is given. Zero
	// leaves calls unbounded.
	CallTimeout time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenRequests: 3,
		MonitoringWindow: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = d.HalfOpenRequests
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	return c
}

// Key identifies a breaker by collaborator and operation.
type Key struct {
	Collaborator string
	Operation    string
}

func (k Key) String() string { return k.Collaborator + "-" + k.Operation }

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Key                 string    `json:"key"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	WindowFailures      int       `json:"window_failures"`
	HalfOpenSuccesses   int       `json:"half_open_successes"`
	Requests            int64     `json:"requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Timeouts            int64     `json:"timeouts"`
	Fallbacks           int64     `json:"fallbacks"`
	FailureRate         float64   `json:"failure_rate"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// FallbackError is returned when both the operation and its fallback fail.
type FallbackError struct {
	Key      string
	Primary  error
	Fallback error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("breaker %s: primary failed: %v; fallback failed: %v", e.Key, e.Primary, e.Fallback)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *FallbackError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

// Operation is the guarded call.
type Operation[T any] func(ctx context.Context) (T, error)

// Fallback produces a substitute result. cause is ErrOpen when the call was
// rejected, otherwise the operation's error.
type Fallback[T any] func(ctx context.Context, cause error) (T, error)

// Breaker guards one collaborator operation. Safe for concurrent use.
type Breaker struct {
	key     Key
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics

	mu               sync.Mutex
	state            State
	consecutive      int
	window           []time.Time
	halfOpenSuccess  int
	halfOpenInFlight int
	openedAt         time.Time

	requests  int64
	successes int64
	failures  int64
	timeouts  int64
	fallbacks int64
}

// Option configures a Breaker or Registry.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger for state changes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// New creates a closed breaker.
func New(key Key, cfg Config, opts ...Option) *Breaker {
	o := buildOptions(opts)
	b := &Breaker{
		key:     key,
		cfg:     cfg.withDefaults(),
		now:     o.now,
		logger:  o.logger.With(zap.String("breaker", key.String())),
		metrics: o.metrics,
		state:   Closed,
	}
	b.metrics.setState(key, Closed)
	return b
}

// Key returns the breaker key.
func (b *Breaker) Key() Key { return b.key }

// State returns the current state. An OPEN breaker whose reset timeout has
// elapsed still reports OPEN until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker with the configured call timeout.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	var fb Fallback[struct{}]
	if fallback != nil {
		fb = func(ctx context.Context, cause error) (struct{}, error) {
			return struct{}{}, fallback(ctx, cause)
		}
	}
	_, err := Do(ctx, b, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, fb)
	return err
}

// admission decides whether a call may run.
type admission int

const (
	admitted admission = iota
	admittedTrial
	rejected
)

func (b *Breaker) admit() admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	b.metrics.request(b.key)

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return rejected
		}
		b.transition(HalfOpen)
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	}

	if b.state == HalfOpen {
		if b.halfOpenInFlight >= b.cfg.HalfOpenRequests {
			return rejected
		}
		b.halfOpenInFlight++
		return admittedTrial
	}
	return admitted
}

func (b *Breaker) settle(trial bool, err error, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.successes++
		b.consecutive = 0
		if b.state == HalfOpen && trial {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.cfg.HalfOpenRequests {
				b.reset()
			}
		}
		return
	}

	now := b.now()
	b.failures++
	b.consecutive++
	if timedOut {
		b.timeouts++
		b.metrics.timeout(b.key)
	}
	b.metrics.failure(b.key)
	b.window = append(b.window, now)
	b.prune(now)

	switch b.state {
	case HalfOpen:
		if trial {
			b.trip(now)
		}
	case Closed:
		if b.consecutive >= b.cfg.FailureThreshold || len(b.window) >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for i < len(b.window) && b.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.transition(Open)
	b.openedAt = now
	b.halfOpenSuccess = 0
	b.logger.Warn("circuit breaker opened",
		zap.Int("consecutive_failures", b.consecutive),
		zap.Int("window_failures", len(b.window)))
}

func (b *Breaker) reset() {
	b.transition(Closed)
	b.consecutive = 0
	b.window = nil
	b.halfOpenSuccess = 0
	b.halfOpenInFlight = 0
	b.openedAt = time.Time{}
	b.logger.Info("circuit breaker closed")
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.metrics.stateChange(b.key, from, to)
}

// ForceOpen opens the breaker immediately.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(b.now())
}

// ForceClose closes the breaker and clears its failure state.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Stats returns a snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.requests
	if total < 1 {
		total = 1
	}
	return Stats{
		Key:                 b.key.String(),
		State:               b.state,
		ConsecutiveFailures: b.consecutive,
		WindowFailures:      len(b.window),
		HalfOpenSuccesses:   b.halfOpenSuccess,
		Requests:            b.requests,
		Successes:           b.successes,
		Failures:            b.failures,
		Timeouts:            b.timeouts,
		Fallbacks:           b.fallbacks,
		FailureRate:         float64(b.failures) / float64(total),
		OpenedAt:            b.openedAt,
	}
}

// Do runs op through b. A positive timeout overrides the configured call
// timeout. The operation runs on a context that ignores caller cancellation
// so its outcome is always recorded; an abandoning caller gets ctx.Err().
func Do[T any](ctx context.Context, b *Breaker, timeout time.Duration, op Operation[T], fallback Fallback[T]) (T, error) {
	var zero T

	adm := b.admit()
	if adm == rejected {
		return runFallback(ctx, b, fallback, ErrOpen)
	}
	trial := adm == admittedTrial

	if timeout <= 0 {
		timeout = b.cfg.CallTimeout
	}
	callCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	var expired <-chan time.Time
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var once sync.Once
	record := func(err error, timedOut bool) {
		once.Do(func() { b.settle(trial, err, timedOut) })
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		v, err := op(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		if timedOut {
			if err == nil || errors.Is(err, context.DeadlineExceeded) {
				err = ErrTimeout
			} else {
				err = fmt.Errorf("%w: %v", ErrTimeout, err)
			}
		}
		record(err, timedOut)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.v, nil
		}
		return runFallback(ctx, b, fallback, r.err)
	case <-expired:
		record(ErrTimeout, true)
		return runFallback(ctx, b, fallback, ErrTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func runFallback[T any](ctx context.Context, b *Breaker, fallback Fallback[T], cause error) (T, error) {
	var zero T
	b.mu.Lock()
	b.fallbacks++
	b.mu.Unlock()
	b.metrics.fallback(b.key)

	if fallback == nil {
		return zero, &FallbackError{Key: b.key.String(), Primary: cause, Fallback: ErrNoFallback}
	}
	v, err := fallback(ctx, cause)
	if err != nil {
		return zero, &FallbackError{Key: b.key.String(), Primary: cause, Fallback: err}
	}
	return v, nil
}
