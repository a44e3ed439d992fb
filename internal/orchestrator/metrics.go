package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the turn pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Turns              *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	Transitions        *prometheus.CounterVec
	IllegalTransitions *prometheus.CounterVec
	Interventions      *prometheus.CounterVec
	Dispatches         *prometheus.CounterVec
	PersistFailures    prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

// NewMetrics registers orchestrator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_orchestrator_turns_total",
			Help: "Candidate turns processed, by outcome",
		}, []string{"outcome"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachd_orchestrator_turn_duration_seconds",
			Help:    "Time to process a turn including fan-out",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_orchestrator_transitions_total",
			Help: "Committed phase transitions",
		}, []string{"from", "to", "trigger"}),
		IllegalTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_orchestrator_illegal_transitions_total",
			Help: "Proposed transitions rejected by the phase graph",
		}, []string{"from", "to"}),
		Interventions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_orchestrator_interventions_total",
			Help: "Interventions issued, by kind",
		}, []string{"kind"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_orchestrator_dispatches_total",
			Help: "Collaborator dispatches, by agent, kind and result (ok, fallback, error)",
		}, []string{"agent", "kind", "result"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "coachd_orchestrator_persist_failures_total",
			Help: "Session snapshots the store failed to save",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "coachd_orchestrator_active_sessions",
			Help: "Sessions started and not yet ended",
		}),
	}
}

func (m *Metrics) turn(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(string(outcome)).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) transition(from, to, trigger string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to, trigger).Inc()
	}
}

func (m *Metrics) illegal(from, to string) {
	if m != nil {
		m.IllegalTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) intervention(kind string) {
	if m != nil {
		m.Interventions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) dispatch(d DispatchResult) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case d.Err != nil:
		result = "error"
	case d.Fallback:
		result = "fallback"
	}
	m.Dispatches.WithLabelValues(string(d.Agent), string(d.Kind), result).Inc()
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}
