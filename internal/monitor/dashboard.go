// Package monitor implements the terminal dashboard for a running daemon.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	keyWidth        = 36
)

// Model represents the BubbleTea dashboard model
type Model struct {
	baseURL    string
	interval   time.Duration
	client     *Client
	now        func() time.Time
	lastUpdate time.Time
	snap       Snapshot
	err        error
	quitting   bool

	// Dispatch rate derives from the growth of summed breaker requests.
	lastRequests int64
	lastPoll     time.Time
	rate         float64

	sessionHistory []float64
	rateHistory    []float64

	fallbackProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling the daemon at baseURL.
func NewModel(baseURL string, interval time.Duration) Model {
	return Model{
		baseURL:  baseURL,
		interval: interval,
		client:   NewClient(baseURL),
		now:      time.Now,
		fallbackProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		sessionHistory: make([]float64, 0, historySize),
		rateHistory:    make([]float64, 0, historySize),
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := client.Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.client),
		)

	case snapshotMsg:
		return m.apply(Snapshot(msg)), nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// apply records a successful poll.
func (m Model) apply(snap Snapshot) Model {
	now := m.now()
	var total int64
	for _, s := range snap.Breakers {
		total += s.Requests
	}
	// A restarted daemon resets its counters.
	if !m.lastPoll.IsZero() && total >= m.lastRequests {
		if elapsed := now.Sub(m.lastPoll).Seconds(); elapsed > 0 {
			m.rate = float64(total-m.lastRequests) / elapsed
		}
	} else {
		m.rate = 0
	}
	m.lastRequests = total
	m.lastPoll = now

	m.sessionHistory = appendToHistory(m.sessionHistory, float64(snap.Health.Sessions))
	m.rateHistory = appendToHistory(m.rateHistory, m.rate)

	m.snap = snap
	m.lastUpdate = now
	m.err = nil
	return m
}

// fallbackRatio is the share of dispatches served by the fallback.
func (m Model) fallbackRatio() float64 {
	var requests, fallbacks int64
	for _, s := range m.snap.Breakers {
		requests += s.Requests
		fallbacks += s.Fallbacks
	}
	if requests == 0 {
		return 0
	}
	r := float64(fallbacks) / float64(requests)
	if r > 1 {
		r = 1
	}
	return r
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" coachd Monitor ")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach coachd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.baseURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Please ensure `coachd serve` is running and --server points at it.") + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	status := m.snap.Health.Status
	if status == "" {
		status = "waiting"
	}
	version := m.snap.Health.Version
	if version == "" {
		version = "-"
	}

	b.WriteString(headerStyle.Render(" coachd Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		statusBadge(status),
		dimStyle.Render("Version:"),
		valueStyle.Render(version),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString("\n" + sectionStyle.Render("┃ Sessions") + "\n")
	b.WriteString(labelStyle.Render("  Resident: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snap.Health.Sessions)) +
		"   " + createSparkline(m.sessionHistory) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Dispatch") + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.rate)) +
		"   " + createSparkline(m.rateHistory) + "\n")
	ratio := m.fallbackRatio()
	b.WriteString(labelStyle.Render("  Fallback: ") +
		m.fallbackProgress.ViewAs(ratio) +
		" " + dimStyle.Render(FormatPercentage(ratio)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Breakers") + "\n")
	if len(m.snap.Breakers) == 0 {
		b.WriteString(dimStyle.Render("  no dispatches yet") + "\n")
	}
	now := m.now()
	for _, s := range m.snap.Breakers {
		b.WriteString(fmt.Sprintf("  %s %s  %s %s  %s %s  %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-*s", keyWidth, s.Key)),
			stateBadge(s.State),
			dimStyle.Render("req"),
			valueStyle.Render(fmt.Sprintf("%d", s.Requests)),
			dimStyle.Render("fail"),
			valueStyle.Render(FormatPercentage(s.FailureRate)),
			dimStyle.Render("open"),
			valueStyle.Render(FormatOpenFor(s.OpenedAt, now))))
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
