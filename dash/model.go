// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package dash is the terminal dashboard: a bubbletea model that
// renders the dispatcher's published view and translates keystrokes
// into dispatcher input events.
//
// The dashboard holds no authoritative state. It receives immutable
// View copies pushed through the bubbletea message loop (the
// dispatcher's render callback forwards them with Program.Send) and
// posts every mutation request back as an input event. Rendering a
// stale view is always safe; the next push corrects it.
package dash

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/deckhand-project/deckhand/dispatch"
	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/worker"
)

// FocusRegion identifies which pane has keyboard focus.
type FocusRegion int

const (
	// FocusWorkers means navigation keys move the worker cursor.
	FocusWorkers FocusRegion = iota
	// FocusLogs means navigation keys scroll the log viewport.
	FocusLogs
	// FocusPrompt means keystrokes go to the chat prompt input.
	FocusPrompt
)

// viewMsg carries a fresh dispatcher view into the bubbletea loop.
type viewMsg struct {
	view dispatch.View
}

// ViewMsg wraps a dispatcher view for delivery via Program.Send. The
// dispatcher's render callback is typically:
//
//	Render: func(v dispatch.View) { program.Send(dash.ViewMsg(v)) }
func ViewMsg(view dispatch.View) tea.Msg { return viewMsg{view: view} }

// Commander is the dashboard's write path back into the dispatcher.
// Implemented by dispatch.Loop.
type Commander interface {
	PostInput(event dispatch.Event)
}

// Model is the dashboard's bubbletea model.
type Model struct {
	keys      KeyMap
	theme     Theme
	commander Commander

	view   dispatch.View
	cursor int
	focus  FocusRegion

	logs   viewport.Model
	prompt textinput.Model

	width  int
	height int
	ready  bool
}

// NewModel builds a dashboard bound to a dispatcher.
func NewModel(commander Commander) Model {
	prompt := textinput.New()
	prompt.Placeholder = "prompt for the agent"
	prompt.CharLimit = 500

	return Model{
		keys:      DefaultKeyMap,
		theme:     DefaultTheme,
		commander: commander,
		prompt:    prompt,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = msg.view
		m.clampCursor()
		m.logs.SetContent(m.renderLogs())
		if m.logs.AtBottom() || !m.ready {
			m.logs.GotoBottom()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logs.Width = msg.Width
		m.logs.Height = logPaneHeight(msg.Height)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Force quit works from any focus state.
	if key.Matches(msg, m.keys.ForceQuit) {
		m.commander.PostInput(dispatch.Quit{Force: true})
		return m, tea.Quit
	}

	if m.focus == FocusPrompt {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.commander.PostInput(dispatch.Quit{})
		return m, tea.Quit

	case key.Matches(msg, m.keys.FocusToggle):
		if m.focus == FocusWorkers {
			m.focus = FocusLogs
		} else {
			m.focus = FocusWorkers
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.focus == FocusLogs {
			m.logs.LineUp(1)
		} else if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.focus == FocusLogs {
			m.logs.LineDown(1)
		} else if m.cursor < len(m.view.Workers)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.logs.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.logs.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.ToggleAutoRestart):
		m.commander.PostInput(dispatch.ToggleAutoRestart{})
		return m, nil

	case key.Matches(msg, m.keys.Restart):
		if ws, ok := m.selected(); ok {
			m.commander.PostInput(dispatch.ManualRestart{Worker: ws.Snapshot.Worker})
		}
		return m, nil

	case key.Matches(msg, m.keys.Ask):
		if _, ok := m.selected(); ok {
			m.focus = FocusPrompt
			m.prompt.Reset()
			return m, m.prompt.Focus()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.focus = FocusWorkers
		m.prompt.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.prompt.Value())
		if ws, ok := m.selected(); ok && text != "" {
			m.commander.PostInput(dispatch.AskAgent{Worker: ws.Snapshot.Worker, Prompt: text})
		}
		m.focus = FocusWorkers
		m.prompt.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.view.Workers) {
		m.cursor = len(m.view.Workers) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (dispatch.WorkerState, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.Workers) {
		return dispatch.WorkerState{}, false
	}
	return m.view.Workers[m.cursor], true
}

// logPaneHeight gives the log viewport whatever is left after the
// header, table, alert line, and help line.
func logPaneHeight(total int) int {
	height := total - 12
	if height < 3 {
		height = 3
	}
	return height
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderWorkers())
	b.WriteString("\n")
	b.WriteString(m.logs.View())
	b.WriteString("\n")
	b.WriteString(m.renderAlertLine())
	b.WriteString("\n")
	if m.focus == FocusPrompt {
		b.WriteString(m.prompt.View())
	} else {
		b.WriteString(m.renderHelp())
	}
	return b.String()
}

func (m Model) renderHeader() string {
	header := lipgloss.NewStyle().Foreground(m.theme.HeaderText).Bold(true)
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)

	parts := []string{header.Render("deckhand")}
	parts = append(parts, faint.Render(fmt.Sprintf("%d workers", len(m.view.Workers))))
	if m.view.AutoRestart {
		parts = append(parts, faint.Render("auto-restart on"))
	} else {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.AlertWarning).Render("auto-restart OFF"))
	}
	if m.view.ParseErrors > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.AlertWarning).
			Render(fmt.Sprintf("%d parse errors", m.view.ParseErrors)))
	}
	if m.view.WatcherDegraded {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.DegradedBanner).
			Render("DEGRADED: interval scanning"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderWorkers() string {
	if len(m.view.Workers) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.FaintText).Render("  no workers")
	}

	var rows []string
	heading := fmt.Sprintf("  %-12s %-9s %-13s %-7s %-14s %-10s %-8s %s",
		"WORKER", "STATUS", "HEALTH", "PID", "SESSION", "TASK", "AGE", "CRASHES")
	rows = append(rows, lipgloss.NewStyle().Foreground(m.theme.FaintText).Render(heading))

	for i, ws := range m.view.Workers {
		row := m.renderWorkerRow(ws)
		if i == m.cursor && m.focus != FocusLogs {
			row = lipgloss.NewStyle().
				Background(m.theme.SelectedBackground).
				Foreground(m.theme.SelectedForeground).
				Render("> " + row)
		} else {
			row = "  " + row
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderWorkerRow(ws dispatch.WorkerState) string {
	snapshot := ws.Snapshot

	healthText := ws.Health.String()
	if ws.Health == health.Stale {
		healthText = fmt.Sprintf("stale %s", roundDuration(ws.StaleFor))
	}
	healthCell := lipgloss.NewStyle().Foreground(m.theme.HealthColor(ws.Health)).
		Render(fmt.Sprintf("%-13s", healthText))
	statusCell := lipgloss.NewStyle().Foreground(m.theme.LifecycleColor(snapshot.Status)).
		Render(fmt.Sprintf("%-9s", string(snapshot.Status)))

	crashes := fmt.Sprintf("%d", ws.CrashCount)
	if ws.RestartSuppressed {
		crashes += " SUPPRESSED"
	}

	return fmt.Sprintf("%-12s %s %s %-7d %-14s %-10s %-8s %s",
		snapshot.Worker, statusCell, healthCell, snapshot.PID,
		truncate(snapshot.Session, 14), truncate(snapshot.Task, 10),
		activityAge(snapshot, m.view.GeneratedAt), crashes)
}

func (m Model) renderLogs() string {
	if len(m.view.Logs) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.FaintText).Render("no log entries yet")
	}
	lines := make([]string, 0, len(m.view.Logs))
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)
	for _, entry := range m.view.Logs {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			faint.Render(entry.Time.Format("15:04:05")),
			levelTag(entry.Level, m.theme),
			renderLogBody(entry)))
	}
	return strings.Join(lines, "\n")
}

func renderLogBody(entry worker.LogEntry) string {
	if entry.Message != "" {
		return fmt.Sprintf("[%s] %s", entry.Worker, entry.Message)
	}
	return fmt.Sprintf("[%s] %s", entry.Worker, entry.Raw)
}

func levelTag(level string, theme Theme) string {
	style := lipgloss.NewStyle().Foreground(theme.FaintText)
	switch level {
	case "error", "fatal":
		style = style.Foreground(theme.AlertError)
	case "warn", "warning":
		style = style.Foreground(theme.AlertWarning)
	}
	return style.Render(fmt.Sprintf("%-5s", level))
}

func (m Model) renderAlertLine() string {
	if len(m.view.Alerts) == 0 {
		return ""
	}
	alert := m.view.Alerts[len(m.view.Alerts)-1]
	color := m.theme.AlertInfo
	switch alert.Level {
	case dispatch.AlertWarning:
		color = m.theme.AlertWarning
	case dispatch.AlertError:
		color = m.theme.AlertError
	}
	prefix := ""
	if alert.Worker != "" {
		prefix = fmt.Sprintf("[%s] ", alert.Worker)
	}
	return lipgloss.NewStyle().Foreground(color).Render(
		fmt.Sprintf("%s %s%s", alert.At.Format("15:04:05"), prefix, alert.Message))
}

func (m Model) renderHelp() string {
	help := "j/k move · Tab pane · r restart · c chat · a auto-restart · q quit"
	return lipgloss.NewStyle().Foreground(m.theme.HelpText).Render(help)
}

// activityAge renders how long ago the worker last reported activity.
func activityAge(snapshot worker.Snapshot, now time.Time) string {
	if snapshot.LastActivity.IsZero() {
		return "-"
	}
	return roundDuration(now.Sub(snapshot.LastActivity))
}

func roundDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func truncate(s string, max int) string {
	if s == "" {
		return "-"
	}
	if len(s) <= max {
		return fmt.Sprintf("%-*s", max, s)
	}
	return s[:max-1] + "…"
}
