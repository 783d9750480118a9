// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package dash

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/deckhand-project/deckhand/dispatch"
	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/worker"
)

type recordingCommander struct {
	events []dispatch.Event
}

func (c *recordingCommander) PostInput(event dispatch.Event) {
	c.events = append(c.events, event)
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func testView() dispatch.View {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	return dispatch.View{
		Workers: []dispatch.WorkerState{
			{
				Snapshot: worker.Snapshot{
					Worker: "w1", Status: worker.Active, PID: 100,
					Session: "dh-w1", Task: "T-1",
					LastActivity: now.Add(-30 * time.Second),
				},
				Health: health.Healthy,
			},
			{
				Snapshot: worker.Snapshot{
					Worker: "w2", Status: worker.Failed, PID: 200,
					Session: "dh-w2",
				},
				Health:            health.ProcessGone,
				CrashCount:        4,
				RestartSuppressed: true,
			},
		},
		AutoRestart: true,
		GeneratedAt: now,
	}
}

// update pushes a message through and keeps the concrete type.
func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model
}

func newTestModel(t *testing.T, commander *recordingCommander) Model {
	t.Helper()
	m := NewModel(commander)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, ViewMsg(testView()))
	return m
}

func TestViewShowsWorkersAndPosture(t *testing.T) {
	m := newTestModel(t, &recordingCommander{})
	rendered := m.View()

	for _, want := range []string{"w1", "w2", "SUPPRESSED", "process-gone", "auto-restart on"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewShowsDegradedBanner(t *testing.T) {
	m := newTestModel(t, &recordingCommander{})
	view := testView()
	view.WatcherDegraded = true
	view.ParseErrors = 7
	m = update(t, m, ViewMsg(view))

	rendered := m.View()
	if !strings.Contains(rendered, "DEGRADED") {
		t.Error("degraded banner missing")
	}
	if !strings.Contains(rendered, "7 parse errors") {
		t.Error("parse error counter missing")
	}
}

func TestCursorMovementIsBounded(t *testing.T) {
	m := newTestModel(t, &recordingCommander{})

	m = update(t, m, keyPress('k')) // already at top
	if m.cursor != 0 {
		t.Fatalf("cursor = %d after up at top", m.cursor)
	}
	m = update(t, m, keyPress('j'))
	if m.cursor != 1 {
		t.Fatalf("cursor = %d after down", m.cursor)
	}
	m = update(t, m, keyPress('j')) // already at bottom
	if m.cursor != 1 {
		t.Fatalf("cursor = %d after down at bottom", m.cursor)
	}

	// Shrinking the worker list clamps the cursor.
	view := testView()
	view.Workers = view.Workers[:1]
	m = update(t, m, ViewMsg(view))
	if m.cursor != 0 {
		t.Fatalf("cursor = %d after list shrank", m.cursor)
	}
}

func TestRestartKeyTargetsSelectedWorker(t *testing.T) {
	commander := &recordingCommander{}
	m := newTestModel(t, commander)

	m = update(t, m, keyPress('j'))
	update(t, m, keyPress('r'))

	if len(commander.events) != 1 {
		t.Fatalf("posted %d events, want 1", len(commander.events))
	}
	restart, ok := commander.events[0].(dispatch.ManualRestart)
	if !ok || restart.Worker != "w2" {
		t.Fatalf("posted %+v, want ManualRestart for w2", commander.events[0])
	}
}

func TestToggleAutoRestartKey(t *testing.T) {
	commander := &recordingCommander{}
	m := newTestModel(t, commander)
	update(t, m, keyPress('a'))

	if len(commander.events) != 1 {
		t.Fatalf("posted %d events, want 1", len(commander.events))
	}
	if _, ok := commander.events[0].(dispatch.ToggleAutoRestart); !ok {
		t.Fatalf("posted %+v, want ToggleAutoRestart", commander.events[0])
	}
}

func TestChatPromptFlow(t *testing.T) {
	commander := &recordingCommander{}
	m := newTestModel(t, commander)

	m = update(t, m, keyPress('c'))
	if m.focus != FocusPrompt {
		t.Fatal("chat key did not focus the prompt")
	}
	// While the prompt is focused, action keys type instead of acting.
	for _, r := range "how goes" {
		m = update(t, m, keyPress(r))
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.focus != FocusWorkers {
		t.Fatal("submit did not return focus to the worker table")
	}
	if len(commander.events) != 1 {
		t.Fatalf("posted %d events, want 1", len(commander.events))
	}
	ask, ok := commander.events[0].(dispatch.AskAgent)
	if !ok || ask.Worker != "w1" || ask.Prompt != "how goes" {
		t.Fatalf("posted %+v", commander.events[0])
	}
}

func TestChatPromptCancel(t *testing.T) {
	commander := &recordingCommander{}
	m := newTestModel(t, commander)

	m = update(t, m, keyPress('c'))
	m = update(t, m, keyPress('x'))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.focus != FocusWorkers {
		t.Fatal("escape did not cancel the prompt")
	}
	if len(commander.events) != 0 {
		t.Fatalf("cancelled prompt posted %+v", commander.events)
	}
}

func TestQuitKeys(t *testing.T) {
	commander := &recordingCommander{}
	m := newTestModel(t, commander)

	next, cmd := m.Update(keyPress('q'))
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if quit, ok := commander.events[0].(dispatch.Quit); !ok || quit.Force {
		t.Fatalf("posted %+v, want graceful Quit", commander.events[0])
	}

	m = next.(Model)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("force quit returned no command")
	}
	if quit, ok := commander.events[1].(dispatch.Quit); !ok || !quit.Force {
		t.Fatalf("posted %+v, want forced Quit", commander.events[1])
	}
}
