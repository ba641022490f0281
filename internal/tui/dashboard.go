// Package tui provides the live supervision dashboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"

	"github.com/vigildev/vigil/internal/instance"
)

// DefaultRefreshInterval is the dashboard poll period.
const DefaultRefreshInterval = 2 * time.Second

// RefreshMsg triggers a poll of the control API.
type RefreshMsg struct{}

// StatusUpdateMsg carries a fresh instance snapshot set.
type StatusUpdateMsg struct {
	Instances []instance.Snapshot
	Err       error
	Time      time.Time
}

// ActionResultMsg reports the outcome of a pause/resume/reset request.
type ActionResultMsg struct {
	Verb string
	PID  int
	Err  error
}

// Client is the slice of the control-API client the dashboard consumes.
type Client interface {
	Status() ([]instance.Snapshot, error)
	Pause(pid int) error
	Resume(pid int) error
	Reset(pid int) error
}

// KeyMap defines dashboard keybindings.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Pause   key.Binding
	Resume  key.Binding
	Reset   key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var dashKeys = KeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Pause:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause instance")),
	Resume:  key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "resume instance")),
	Reset:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset counters")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the dashboard model.
type Model struct {
	client   Client
	interval time.Duration

	instances []instance.Snapshot
	cursor    int
	width     int
	height    int
	spinner   spinner.Model
	lastPoll  time.Time
	err       error
	notice    string
	quitting  bool
}

// New creates a dashboard polling the given client.
func New(client Client, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		client:   client,
		interval: interval,
		width:    80,
		height:   24,
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchStatus(), m.scheduleRefresh())
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return RefreshMsg{}
	})
}

func (m Model) fetchStatus() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		instances, err := client.Status()
		return StatusUpdateMsg{Instances: instances, Err: err, Time: time.Now()}
	}
}

func (m Model) runAction(verb string, pid int, fn func(int) error) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Verb: verb, PID: pid, Err: fn(pid)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case RefreshMsg:
		return m, tea.Batch(m.fetchStatus(), m.scheduleRefresh())

	case StatusUpdateMsg:
		m.err = msg.Err
		m.lastPoll = msg.Time
		if msg.Err == nil {
			m.instances = msg.Instances
			if m.cursor >= len(m.instances) {
				m.cursor = max(0, len(m.instances)-1)
			}
		}
		return m, nil

	case ActionResultMsg:
		if msg.Err != nil {
			m.notice = fmt.Sprintf("%s %d failed: %v", msg.Verb, msg.PID, msg.Err)
		} else {
			m.notice = fmt.Sprintf("%s %d ok", msg.Verb, msg.PID)
		}
		return m, m.fetchStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, dashKeys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, dashKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, dashKeys.Down):
		if m.cursor < len(m.instances)-1 {
			m.cursor++
		}

	case key.Matches(msg, dashKeys.Refresh):
		return m, m.fetchStatus()

	case key.Matches(msg, dashKeys.Pause):
		if pid, ok := m.selectedPID(); ok {
			return m, m.runAction("pause", pid, m.client.Pause)
		}

	case key.Matches(msg, dashKeys.Resume):
		if pid, ok := m.selectedPID(); ok {
			return m, m.runAction("resume", pid, m.client.Resume)
		}

	case key.Matches(msg, dashKeys.Reset):
		if pid, ok := m.selectedPID(); ok {
			return m, m.runAction("reset", pid, m.client.Reset)
		}
	}
	return m, nil
}

func (m Model) selectedPID() (int, bool) {
	if m.cursor < 0 || m.cursor >= len(m.instances) {
		return 0, false
	}
	return m.instances[m.cursor].Instance.PID, true
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := titleStyle.Render(" vigil ")
	poll := ""
	if !m.lastPoll.IsZero() {
		poll = faintStyle.Render(fmt.Sprintf("updated %s", m.lastPoll.Format("15:04:05")))
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", m.spinner.View(), " ", poll)
	b.WriteString(header + "\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("control api unreachable: %v", m.err)) + "\n")
		b.WriteString(faintStyle.Render("is 'vigil monitor' running?") + "\n")
		return b.String()
	}

	if len(m.instances) == 0 {
		b.WriteString(faintStyle.Render("No supervised instances.") + "\n")
	} else {
		b.WriteString(m.renderTable())
	}

	if m.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(m.notice) + "\n")
	}
	b.WriteString("\n" + m.renderHelp())
	return b.String()
}

func (m Model) renderTable() string {
	var b strings.Builder

	msgWidth := m.width - 52
	if msgWidth < 10 {
		msgWidth = 10
	}

	head := fmt.Sprintf("  %-8s %-22s %5s %5s  %s", "PID", "STATUS", "INT", "FAIL", "MESSAGE")
	b.WriteString(headerStyle.Render(head) + "\n")

	for i, snap := range m.instances {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		status := statusGlyph(snap.Status) + " " + snap.Status.String()
		status = runewidth.FillRight(runewidth.Truncate(status, 22, "…"), 22)

		msg := truncate.StringWithTail(snap.Message, uint(msgWidth), "…")

		line := fmt.Sprintf("%s%-8d %s %5d %5d  %s",
			cursor, snap.Instance.PID, status, snap.Interventions, snap.Failures, msg)

		style := rowStyleFor(snap.Status)
		if i == m.cursor {
			style = style.Bold(true)
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	entries := []key.Binding{
		dashKeys.Up, dashKeys.Down, dashKeys.Pause, dashKeys.Resume,
		dashKeys.Reset, dashKeys.Refresh, dashKeys.Quit,
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		h := e.Help()
		parts = append(parts, fmt.Sprintf("%s %s", h.Key, h.Desc))
	}
	return faintStyle.Render(strings.Join(parts, " • "))
}

func statusGlyph(s instance.Status) string {
	switch s.Kind {
	case instance.StateIdle:
		return "·"
	case instance.StateWorking:
		return "▶"
	case instance.StateError:
		return "✗"
	case instance.StateRecovering:
		return "↻"
	case instance.StatePaused:
		return "⏸"
	case instance.StateUnrecoverable:
		return "☠"
	default:
		return "?"
	}
}
