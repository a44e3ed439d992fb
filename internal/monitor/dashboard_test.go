package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
)

const testURL = "http://127.0.0.1:9191"

func fixedModel(at *time.Time) Model {
	m := NewModel(testURL, 5*time.Second)
	m.now = func() time.Time { return *at }
	return m
}

func TestNewModel(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	assert.Equal(t, testURL, model.baseURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.NotNil(t, model.client)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tickMsg(time.Now()))

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_Snapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC)
	model := fixedModel(&now)

	updated, cmd := model.Update(snapshotMsg(Snapshot{
		Health:   Health{Status: "ok", Sessions: 3},
		Breakers: []breaker.Stats{{Key: "evaluator-evaluate_response", Requests: 10}},
	}))
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.Equal(t, now, m.lastUpdate)
	assert.Zero(t, m.rate, "first poll has no rate")
	assert.Equal(t, []float64{3}, m.sessionHistory)

	now = now.Add(5 * time.Second)
	updated, _ = m.Update(snapshotMsg(Snapshot{
		Health:   Health{Status: "ok", Sessions: 4},
		Breakers: []breaker.Stats{{Key: "evaluator-evaluate_response", Requests: 35}},
	}))
	m = updated.(Model)
	assert.InDelta(t, 5.0, m.rate, 1e-9)
	assert.Equal(t, []float64{0, 5}, m.rateHistory)

	// Counters going backwards means the daemon restarted.
	now = now.Add(5 * time.Second)
	updated, _ = m.Update(snapshotMsg(Snapshot{
		Breakers: []breaker.Stats{{Key: "evaluator-evaluate_response", Requests: 2}},
	}))
	m = updated.(Model)
	assert.Zero(t, m.rate)
	assert.Equal(t, int64(2), m.lastRequests)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(errMsg(fmt.Errorf("connection refused")))

	m := updated.(Model)
	assert.ErrorContains(t, m.err, "connection refused")
	assert.Nil(t, cmd)

	updated, _ = m.Update(snapshotMsg(Snapshot{Health: Health{Status: "ok"}}))
	assert.NoError(t, updated.(Model).err, "a successful poll clears the error")
}

func TestHistoryIsBounded(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

func TestFallbackRatio(t *testing.T) {
	model := NewModel(testURL, time.Second)
	assert.Zero(t, model.fallbackRatio())

	model.snap.Breakers = []breaker.Stats{
		{Requests: 6, Fallbacks: 1},
		{Requests: 4, Fallbacks: 1},
	}
	assert.InDelta(t, 0.2, model.fallbackRatio(), 1e-9)
}

func TestModel_View_WithSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC)
	model := fixedModel(&now)
	model = model.apply(Snapshot{
		Health: Health{Status: "degraded", Version: "1.2.0", Sessions: 7},
		Breakers: []breaker.Stats{
			{Key: "context-process_context", State: breaker.Closed, Requests: 40},
			{Key: "evaluator-evaluate_response", State: breaker.Open, Requests: 12, FailureRate: 0.5,
				OpenedAt: now.Add(-90 * time.Second)},
		},
	})

	view := model.View()

	assert.Contains(t, view, "coachd Monitor")
	assert.Contains(t, view, "DEGRADED")
	assert.Contains(t, view, "1.2.0")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "Sessions")
	assert.Contains(t, view, "Dispatch")
	assert.Contains(t, view, "context-process_context")
	assert.Contains(t, view, "CLOSED")
	assert.Contains(t, view, "evaluator-evaluate_response")
	assert.Contains(t, view, "OPEN")
	assert.Contains(t, view, "50.0%")
	assert.Contains(t, view, "1m 30s")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach coachd")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, testURL)
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	view := NewModel(testURL, 5*time.Second).View()

	assert.Contains(t, view, "coachd Monitor")
	assert.Contains(t, view, "no dispatches yet")
	assert.Contains(t, view, "[q]")
}
