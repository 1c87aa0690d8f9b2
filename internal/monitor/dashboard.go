// Package monitor renders a live terminal view of a running improvement
// loop from the events it publishes.
package monitor

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/vizloop/internal/events"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	timelineSize    = 6
)

// Config describes the run being watched. Events carry neither the target
// nor the iteration budget, so the caller supplies them.
type Config struct {
	// RunID filters the header; empty shows the first run seen.
	RunID         string
	TargetScore   float64
	MaxIterations int
}

// Model is the bubbletea model of the run monitor.
type Model struct {
	cfg    Config
	events <-chan events.Event
	now    func() time.Time

	startedAt time.Time
	lastEvent time.Time
	phase     string
	iteration int
	completed int
	current   *float64
	first     *float64
	scores    []float64
	timeline  []string
	status    string
	done      bool
	quitting  bool

	iterationProgress progress.Model
	scoreProgress     progress.Model
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

// NewModel creates a monitor reading from ch.
func NewModel(cfg Config, ch <-chan events.Event) Model {
	return Model{
		cfg:    cfg,
		events: ch,
		now:    time.Now,
		scores: make([]float64, 0, historySize),
		iterationProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		scoreProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Message types
type eventMsg events.Event
type tickMsg time.Time

// Init starts listening for events and the elapsed-time clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		ev := events.Event(msg)
		if m.cfg.RunID != "" && ev.RunID != m.cfg.RunID {
			return m, waitForEvent(m.events)
		}
		m.apply(ev)
		if m.done {
			return m, nil
		}
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m *Model) apply(ev events.Event) {
	if m.cfg.RunID == "" {
		m.cfg.RunID = ev.RunID
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	if m.startedAt.IsZero() {
		m.startedAt = ts
	}
	m.lastEvent = ts
	m.iteration = ev.Iteration
	if ev.Phase != "" {
		m.phase = ev.Phase
	}

	switch ev.Kind {
	case events.KindProgress:
		if ev.Score != nil {
			score := *ev.Score
			m.current = &score
			if m.first == nil {
				m.first = &score
			}
			m.completed++
			m.scores = appendToHistory(m.scores, score)
		}
	case events.KindCompleted, events.KindFailed:
		m.done = true
		m.status = ev.Status
		if m.status == "" {
			m.status = string(ev.Kind)
		}
		if ev.Score != nil {
			score := *ev.Score
			m.current = &score
		}
	}

	if ev.Message != "" {
		m.timeline = append(m.timeline, fmt.Sprintf("%s  %s", ts.Local().Format("15:04:05"), ev.Message))
		if len(m.timeline) > timelineSize {
			m.timeline = m.timeline[len(m.timeline)-timelineSize:]
		}
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

// createSparkline creates a sparkline chart from historical data
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

// statusBadge summarizes the run state.
func (m Model) statusBadge() string {
	switch {
	case !m.done && m.lastEvent.IsZero():
		return dimStyle.Render("… WAITING")
	case !m.done:
		return healthyStyle.Render("● RUNNING")
	case m.status == "completed":
		return healthyStyle.Render("✓ COMPLETED")
	case m.status == "cancelled":
		return warningStyle.Render("⚠ CANCELLED")
	default:
		return errorStyle.Render("✗ " + m.status)
	}
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string

	runID := m.cfg.RunID
	if runID == "" {
		runID = "any run"
	}
	elapsed := "-"
	if !m.startedAt.IsZero() {
		end := m.now()
		if m.done {
			end = m.lastEvent
		}
		elapsed = FormatElapsed(end.Sub(m.startedAt))
	}

	content += headerStyle.Render(" vizloop Monitor ") + "\n"
	content += fmt.Sprintf("%s   %s   %s   %s",
		m.statusBadge(),
		dimStyle.Render("Run:"),
		valueStyle.Render(runID),
		dimStyle.Render("Elapsed: "+elapsed)) + "\n"

	// Iterations
	content += "\n" + sectionStyle.Render("┃ Iterations") + "\n"
	content += labelStyle.Render("  Phase: ") + valueStyle.Render(FormatPhase(m.phase)) +
		dimStyle.Render(fmt.Sprintf("  (iteration %d)", m.iteration)) + "\n"

	iterPercent := 0.0
	if m.cfg.MaxIterations > 0 {
		iterPercent = min(float64(m.completed)/float64(m.cfg.MaxIterations), 1.0)
	}
	content += labelStyle.Render("  Budget: ") +
		m.iterationProgress.ViewAs(iterPercent) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", m.completed, m.cfg.MaxIterations)) + "\n"

	// Score
	content += "\n" + sectionStyle.Render("┃ Score") + "\n"
	if m.current == nil {
		content += labelStyle.Render("  Current: ") + dimStyle.Render("not evaluated yet") + "\n"
	} else {
		line := labelStyle.Render("  Current: ") + valueStyle.Render(FormatScore(*m.current))
		if m.first != nil {
			line += "  " + dimStyle.Render("Δ ") + valueStyle.Render(FormatDelta(*m.current-*m.first))
		}
		content += line + "   " + createSparkline(m.scores) + "\n"
	}
	scorePercent := 0.0
	if m.current != nil && m.cfg.TargetScore > 0 {
		scorePercent = min(max(*m.current/m.cfg.TargetScore, 0), 1.0)
	}
	content += labelStyle.Render("  Target: ") +
		m.scoreProgress.ViewAs(scorePercent) +
		" " + dimStyle.Render(FormatScore(m.cfg.TargetScore)) + "\n"

	// Timeline
	content += "\n" + sectionStyle.Render("┃ Timeline") + "\n"
	if len(m.timeline) == 0 {
		content += dimStyle.Render("  waiting for events…") + "\n"
	}
	for _, line := range m.timeline {
		content += dimStyle.Render("  "+line) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
	content += "\n" + footer

	return containerStyle.Render(content)
}

// Done reports whether the watched run has finished.
func (m Model) Done() bool { return m.done }

// Status returns the terminal status of the run, or "" while it runs.
func (m Model) Status() string { return m.status }
