// Package tui renders live progress for a validation run. The model feeds
// on the scheduler's event hub and quits on its own when the run finishes,
// so the caller can print the final report right after the program exits.
package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/report"
)

// tailSize is how many finished tests stay visible.
const tailSize = 12

type eventMsg events.Event

// streamClosedMsg arrives when the hub shuts down before the run finished.
type streamClosedMsg struct{}

// Model is the BubbleTea model behind validate --progress.
type Model struct {
	ch    <-chan events.Event
	unsub func()
	abort func()

	spinner spinner.Model
	bar     progress.Model
	theme   report.Theme
	dim     lipgloss.Style

	total     int
	completed int
	current   string
	tail      []string
	tally     report.Tally

	width       int
	done        bool
	interrupted bool
}

// New builds a model subscribed to hub. abort is invoked when the user
// quits before the run finishes; it should cancel the run's context.
func New(hub *events.Hub, abort func()) Model {
	ch, unsub := hub.Subscribe()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ch:      ch,
		unsub:   unsub,
		abort:   abort,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		theme:   report.DefaultTheme(),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// NewProgram wraps the model in a program rendering to stderr, keeping
// stdout free for the report.
func NewProgram(hub *events.Hub, abort func()) *tea.Program {
	return tea.NewProgram(New(hub, abort), tea.WithOutput(os.Stderr))
}

// Interrupted reports whether the user quit before the run finished.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, receiveNext(m.ch))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.interrupted = true
				m.abort()
			}
			m.unsub()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		if m.done {
			m.unsub()
			return m, tea.Quit
		}
		return m, receiveNext(m.ch)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder

	header := "Scanning plugin libraries..."
	if m.total > 0 {
		header = fmt.Sprintf("Running tests  %d/%d", m.completed, m.total)
	}
	b.WriteString(fmt.Sprintf("\n %s%s", m.spinner.View(), header))
	if m.current != "" {
		b.WriteString(m.dim.Render("  " + m.current))
	}
	b.WriteString("\n\n ")

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.completed) / float64(m.total)
	}
	b.WriteString(m.bar.ViewAs(pct))
	b.WriteString("\n")
	if m.completed > 0 {
		b.WriteString(" " + m.countsLine() + "\n")
	}
	b.WriteString("\n")

	for _, line := range m.tail {
		b.WriteString(" " + truncate(line, m.width-2) + "\n")
	}

	b.WriteString("\n " + m.dim.Render("[q] quit") + "\n")
	return b.String()
}

// applyEvent folds one hub event into the model.
func (m Model) applyEvent(ev events.Event) Model {
	switch ev.Topic {
	case events.TopicRunStarted:
		var payload events.RunStarted
		if json.Unmarshal(ev.Data, &payload) == nil {
			m.total = payload.Total
		}

	case events.TopicInvocationStarted:
		var payload events.InvocationStarted
		if json.Unmarshal(ev.Data, &payload) == nil {
			m.current = payload.TestID + " @ " + target(payload.Library, payload.PluginID)
		}

	case events.TopicInvocationFinished:
		var payload events.InvocationFinished
		if json.Unmarshal(ev.Data, &payload) != nil {
			return m
		}
		m.completed = payload.Completed
		m.total = payload.Total
		m.count(report.Outcome(payload.Outcome))

		label := m.theme.ForOutcome(report.Outcome(payload.Outcome)).
			Render(fmt.Sprintf("%-7s", report.Outcome(payload.Outcome).Label()))
		line := fmt.Sprintf("%s %-34s %s", label, payload.TestID, target(payload.Library, payload.PluginID))
		m.tail = append(m.tail, line)
		if len(m.tail) > tailSize {
			m.tail = m.tail[len(m.tail)-tailSize:]
		}

	case events.TopicRunFinished:
		m.done = true
	}

	return m
}

func (m *Model) count(o report.Outcome) {
	switch o {
	case report.Pass:
		m.tally.Passed++
	case report.Fail:
		m.tally.Failed++
	case report.Warning:
		m.tally.Warnings++
	case report.Skip:
		m.tally.Skipped++
	case report.Crash:
		m.tally.Crashed++
	case report.Timeout:
		m.tally.TimedOut++
	}
}

// countsLine summarizes outcomes so far. Zero counts are skipped to keep
// the line short on clean runs.
func (m Model) countsLine() string {
	parts := []string{fmt.Sprintf("%d passed", m.tally.Passed)}
	if n := m.tally.Failed + m.tally.Crashed + m.tally.TimedOut; n > 0 {
		parts = append(parts, m.theme.Fail.Render(fmt.Sprintf("%d failed", n)))
	}
	if m.tally.Warnings > 0 {
		parts = append(parts, m.theme.Warning.Render(fmt.Sprintf("%d warnings", m.tally.Warnings)))
	}
	if m.tally.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", m.tally.Skipped))
	}
	return strings.Join(parts, m.dim.Render(" · "))
}

// target names what a test ran against: the plugin ID when there is one,
// otherwise the library file.
func target(library, pluginID string) string {
	if pluginID != "" {
		return pluginID
	}
	return filepath.Base(library)
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func receiveNext(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}
