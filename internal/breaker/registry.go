package breaker

import (
	"sort"
	"sync"
)

// degradedFailureRate marks a closed breaker as degraded.
const degradedFailureRate = 0.1

// Health groups breaker keys by condition.
type Health struct {
	Healthy  []string `json:"healthy"`
	Degraded []string `json:"degraded"`
	Failed   []string `json:"failed"`
}

// Registry owns one breaker per key, created on first use.
type Registry struct {
	defaults Config
	opts     []Option

	mu       sync.RWMutex
	breakers map[Key]*Breaker
}

// NewRegistry creates a registry whose breakers use defaults unless a
// per-key config is supplied. opts apply to every breaker.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	return &Registry{
		defaults: defaults,
		opts:     opts,
		breakers: make(map[Key]*Breaker),
	}
}

// Get returns the breaker for key, creating it with the registry defaults.
func (r *Registry) Get(key Key) *Breaker {
	return r.GetWithConfig(key, r.defaults)
}

// GetWithConfig returns the breaker for key, creating it with cfg if absent.
// cfg is ignored when the breaker already exists.
func (r *Registry) GetWithConfig(key Key, cfg Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(key, cfg, r.opts...)
	r.breakers[key] = b
	return b
}

func (r *Registry) snapshot() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}

// Stats returns a snapshot of every breaker, sorted by key.
func (r *Registry) Stats() []Stats {
	breakers := r.snapshot()
	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	return out
}

// HealthSummary classifies every breaker.
func (r *Registry) HealthSummary() Health {
	h := Health{Healthy: []string{}, Degraded: []string{}, Failed: []string{}}
	for _, s := range r.Stats() {
		switch {
		case s.State == Open:
			h.Failed = append(h.Failed, s.Key)
		case s.State == HalfOpen || s.FailureRate > degradedFailureRate:
			h.Degraded = append(h.Degraded, s.Key)
		default:
			h.Healthy = append(h.Healthy, s.Key)
		}
	}
	return h
}

// ForceOpenAll opens every breaker.
func (r *Registry) ForceOpenAll() {
	for _, b := range r.snapshot() {
		b.ForceOpen()
	}
}

// ForceCloseAll closes every breaker and clears failure state.
func (r *Registry) ForceCloseAll() {
	for _, b := range r.snapshot() {
		b.ForceClose()
	}
}
