package monitor

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vizloop/internal/events"
)

func newTestModel(ch <-chan events.Event) Model {
	m := NewModel(Config{RunID: "run-1", TargetScore: 8, MaxIterations: 4}, ch)
	m.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC) }
	return m
}

func score(v float64) *float64 { return &v }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	out, ok := updated.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestNewModel(t *testing.T) {
	m := newTestModel(nil)
	assert.Equal(t, "run-1", m.cfg.RunID)
	assert.False(t, m.Done())
	assert.False(t, m.quitting)
	assert.Empty(t, m.scores)
}

func TestModel_Init(t *testing.T) {
	m := newTestModel(make(chan events.Event))
	assert.NotNil(t, m.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := newTestModel(nil)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_Tick(t *testing.T) {
	m := newTestModel(nil)

	_, cmd := update(t, m, tickMsg(time.Now()))
	assert.NotNil(t, cmd, "ticks continue while the run is live")

	m.done = true
	_, cmd = update(t, m, tickMsg(time.Now()))
	assert.Nil(t, cmd)
}

func TestModel_Update_Events(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(make(chan events.Event))

	m, cmd := update(t, m, eventMsg(events.Event{RunID: "run-1", Kind: events.KindStarted, Phase: "idle", Message: "run started", Timestamp: start}))
	assert.NotNil(t, cmd, "keeps listening")
	assert.Equal(t, start, m.startedAt)
	assert.Nil(t, m.current)

	m, _ = update(t, m, eventMsg(events.Event{RunID: "run-1", Kind: events.KindProgress, Phase: "analyzing", Timestamp: start.Add(time.Second)}))
	assert.Equal(t, "analyzing", m.phase)
	assert.Equal(t, 0, m.completed)

	m, _ = update(t, m, eventMsg(events.Event{RunID: "run-1", Kind: events.KindProgress, Iteration: 0, Phase: "deciding",
		Message: "iteration 0 success", Score: score(6.5), Timestamp: start.Add(10 * time.Second)}))
	m, _ = update(t, m, eventMsg(events.Event{RunID: "run-1", Kind: events.KindProgress, Iteration: 1, Phase: "deciding",
		Message: "iteration 1 success", Score: score(7.25), Timestamp: start.Add(20 * time.Second)}))

	assert.Equal(t, 2, m.completed)
	assert.Equal(t, []float64{6.5, 7.25}, m.scores)
	require.NotNil(t, m.current)
	assert.Equal(t, 7.25, *m.current)
	assert.Len(t, m.timeline, 3)

	m, cmd = update(t, m, eventMsg(events.Event{RunID: "run-1", Kind: events.KindCompleted, Iteration: 1, Phase: "done",
		Status: "completed", Message: "completed", Score: score(7.25), Timestamp: start.Add(25 * time.Second)}))
	assert.Nil(t, cmd, "stops listening once the run ends")
	assert.True(t, m.Done())
	assert.Equal(t, "completed", m.Status())
}

func TestModel_Update_IgnoresOtherRuns(t *testing.T) {
	m := newTestModel(make(chan events.Event))

	m, cmd := update(t, m, eventMsg(events.Event{RunID: "run-2", Kind: events.KindFailed, Status: "failed"}))
	assert.NotNil(t, cmd)
	assert.False(t, m.Done())
}

func TestModel_Update_AdoptsFirstRun(t *testing.T) {
	m := NewModel(Config{TargetScore: 8, MaxIterations: 2}, make(chan events.Event))

	m, _ = update(t, m, eventMsg(events.Event{RunID: "run-9", Kind: events.KindStarted}))
	assert.Equal(t, "run-9", m.cfg.RunID)
	assert.False(t, m.startedAt.IsZero())
}

func TestWaitForEvent(t *testing.T) {
	ch := make(chan events.Event, 1)
	ch <- events.Event{RunID: "run-1", Kind: events.KindStarted}

	msg := waitForEvent(ch)()
	ev, ok := msg.(eventMsg)
	require.True(t, ok)
	assert.Equal(t, "run-1", ev.RunID)
}

func TestModel_View(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(nil)

	view := m.View()
	assert.Contains(t, view, "vizloop Monitor")
	assert.Contains(t, view, "WAITING")
	assert.Contains(t, view, "not evaluated yet")
	assert.Contains(t, view, "waiting for events")
	assert.Contains(t, view, "[q]")

	m.apply(events.Event{RunID: "run-1", Kind: events.KindProgress, Phase: "capturing_after", Message: "iteration 0 success",
		Score: score(6.0), Timestamp: start})
	m.apply(events.Event{RunID: "run-1", Kind: events.KindProgress, Phase: "capturing_after", Score: score(7.5), Timestamp: start})

	view = m.View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "run-1")
	assert.Contains(t, view, "capturing after")
	assert.Contains(t, view, "7.50/10")
	assert.Contains(t, view, "+1.50")
	assert.Contains(t, view, "2/4")
	assert.Contains(t, view, "8.00/10")
	assert.Contains(t, view, "Elapsed: 30s")
	assert.Contains(t, view, "iteration 0 success")

	m.apply(events.Event{RunID: "run-1", Kind: events.KindFailed, Status: "failed", Timestamp: start.Add(time.Minute)})
	assert.Contains(t, m.View(), "failed")
}
