package breaker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetIsIdempotent(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	key := Key{Collaborator: "context", Operation: "update_context"}

	const n = 64
	got := make([]*Breaker, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.Get(key)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
	assert.Len(t, reg.Stats(), 1)
}

func TestRegistry_GetWithConfigKeepsFirst(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	key := Key{Collaborator: "evaluator", Operation: "evaluate_response"}

	first := reg.GetWithConfig(key, Config{FailureThreshold: 1})
	second := reg.GetWithConfig(key, Config{FailureThreshold: 10})
	require.Same(t, first, second)

	_ = first.Execute(context.Background(), fail, fallbackOK)
	assert.Equal(t, Open, first.State())
}

func TestRegistry_HealthSummary(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(DefaultConfig(), WithClock(clock.Now))

	healthy := reg.Get(Key{"context", "update_context"})
	require.NoError(t, healthy.Execute(context.Background(), succeed, nil))

	degraded := reg.Get(Key{"evaluator", "evaluate_response"})
	_ = degraded.Execute(context.Background(), fail, fallbackOK)
	require.NoError(t, degraded.Execute(context.Background(), succeed, nil))

	failed := reg.Get(Key{"synthesis", "generate_report"})
	failed.ForceOpen()

	h := reg.HealthSummary()
	assert.Equal(t, []string{"context-update_context"}, h.Healthy)
	assert.Equal(t, []string{"evaluator-evaluate_response"}, h.Degraded)
	assert.Equal(t, []string{"synthesis-generate_report"}, h.Failed)
}

func TestRegistry_ForceAll(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	a := reg.Get(Key{"context", "update_context"})
	b := reg.Get(Key{"interviewer", "generate_followup"})

	reg.ForceOpenAll()
	assert.Equal(t, Open, a.State())
	assert.Equal(t, Open, b.State())
	assert.Len(t, reg.HealthSummary().Failed, 2)

	reg.ForceCloseAll()
	assert.Equal(t, Closed, a.State())
	assert.Equal(t, Closed, b.State())
	assert.Empty(t, reg.HealthSummary().Failed)
}

func TestRegistry_StatsSorted(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	reg.Get(Key{"synthesis", "generate_report"})
	reg.Get(Key{"context", "update_context"})

	stats := reg.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "context-update_context", stats[0].Key)
	assert.Equal(t, "synthesis-generate_report", stats[1].Key)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "evaluator-evaluate_response", Key{"evaluator", "evaluate_response"}.String())
}
