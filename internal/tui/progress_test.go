package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/events"
)

func publishRun(hub *events.Hub) {
	hub.Publish(events.TopicRunStarted, events.RunStarted{RunID: "r1", Total: 2, Libraries: 1})
	hub.Publish(events.TopicInvocationStarted, events.InvocationStarted{
		InvocationID: "i1", Library: "/plugins/gain.clap", TestID: "descriptor-consistency",
	})
	hub.Publish(events.TopicInvocationFinished, events.InvocationFinished{
		InvocationID: "i1", Library: "/plugins/gain.clap", TestID: "descriptor-consistency",
		Outcome: "pass", Completed: 1, Total: 2,
	})
	hub.Publish(events.TopicInvocationFinished, events.InvocationFinished{
		InvocationID: "i2", Library: "/plugins/gain.clap", PluginID: "com.example.gain",
		TestID: "basic-state-reproducibility", Outcome: "fail", Message: "state differs",
		Completed: 2, Total: 2,
	})
	hub.Publish(events.TopicRunFinished, events.RunFinished{RunID: "r1", Total: 2, Passed: 1, Failed: 1})
}

// drain folds every buffered hub event into the model the way the program
// loop would.
func drain(t *testing.T, m Model) Model {
	t.Helper()
	for {
		select {
		case ev := <-m.ch:
			next, _ := m.Update(eventMsg(ev))
			m = next.(Model)
			if m.done {
				return m
			}
		case <-time.After(time.Second):
			t.Fatal("hub delivered no event")
		}
	}
}

func TestModelFollowsRun(t *testing.T) {
	hub := events.NewHub(16)
	m := New(hub, func() {})

	publishRun(hub)
	m = drain(t, m)

	assert.Equal(t, 2, m.total)
	assert.Equal(t, 2, m.completed)
	assert.Equal(t, 1, m.tally.Passed)
	assert.Equal(t, 1, m.tally.Failed)
	assert.True(t, m.done)
	assert.False(t, m.Interrupted())
	require.Len(t, m.tail, 2)
	assert.Contains(t, m.tail[0], "descriptor-consistency")
	assert.Contains(t, m.tail[0], "gain.clap")
	assert.Contains(t, m.tail[1], "com.example.gain")
}

func TestModelTailStaysBounded(t *testing.T) {
	hub := events.NewHub(256)
	m := New(hub, func() {})

	hub.Publish(events.TopicRunStarted, events.RunStarted{RunID: "r1", Total: tailSize * 2})
	for i := 0; i < tailSize*2; i++ {
		hub.Publish(events.TopicInvocationFinished, events.InvocationFinished{
			TestID: "case", Outcome: "pass", Completed: i + 1, Total: tailSize * 2,
		})
	}
	hub.Publish(events.TopicRunFinished, events.RunFinished{RunID: "r1"})

	m = drain(t, m)
	assert.Len(t, m.tail, tailSize)
}

func TestQuitBeforeFinishAbortsRun(t *testing.T) {
	hub := events.NewHub(16)
	aborted := false
	m := New(hub, func() { aborted = true })

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)

	assert.True(t, m.Interrupted())
	assert.True(t, aborted)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewRendersProgress(t *testing.T) {
	hub := events.NewHub(16)
	m := New(hub, func() {})

	hub.Publish(events.TopicRunStarted, events.RunStarted{RunID: "r1", Total: 4})
	hub.Publish(events.TopicInvocationFinished, events.InvocationFinished{
		TestID: "plugin-count", Outcome: "pass", Completed: 1, Total: 4,
	})

	for i := 0; i < 2; i++ {
		ev := <-m.ch
		next, _ := m.Update(eventMsg(ev))
		m = next.(Model)
	}

	view := m.View()
	assert.Contains(t, view, "Running tests  1/4")
	assert.Contains(t, view, "plugin-count")
	assert.Contains(t, view, "1 passed")
	assert.Contains(t, view, "[q] quit")
}
