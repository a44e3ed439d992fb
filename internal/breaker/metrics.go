package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for circuit breakers. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - coachd_breaker_requests_total{breaker}
//   - coachd_breaker_failures_total{breaker}
//   - coachd_breaker_timeouts_total{breaker}
//   - coachd_breaker_fallbacks_total{breaker}
//   - coachd_breaker_state_changes_total{breaker,from,to}
//   - coachd_breaker_state{breaker} (0 closed, 1 half-open, 2 open)
type Metrics struct {
	Requests     *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	Timeouts     *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	StateChanges *prometheus.CounterVec
	State        *prometheus.GaugeVec
}

// NewMetrics registers breaker metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_breaker_requests_total",
			Help: "Calls made through a circuit breaker",
		}, []string{"breaker"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_breaker_failures_total",
			Help: "Calls that failed, including timeouts",
		}, []string{"breaker"}),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_breaker_timeouts_total",
			Help: "Calls that exceeded their timeout",
		}, []string{"breaker"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_breaker_fallbacks_total",
			Help: "Calls answered by the fallback",
		}, []string{"breaker"}),
		StateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_breaker_state_changes_total",
			Help: "Breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coachd_breaker_state",
			Help: "Current breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"breaker"}),
	}
}

func stateValue(s State) float64 {
	switch s {
	case HalfOpen:
		return 1
	case Open:
		return 2
	default:
		return 0
	}
}

func (m *Metrics) request(k Key) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) failure(k Key) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) timeout(k Key) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) fallback(k Key) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) setState(k Key, s State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(k.String()).Set(stateValue(s))
}

func (m *Metrics) stateChange(k Key, from, to State) {
	if m == nil {
		return
	}
	m.StateChanges.WithLabelValues(k.String(), string(from), string(to)).Inc()
	m.State.WithLabelValues(k.String()).Set(stateValue(to))
}
