// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package dash

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the dashboard.
type KeyMap struct {
	// Navigation (context-sensitive: worker cursor or log scrolling
	// depending on current focus).
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding

	// Focus switching between the worker table and the log pane.
	FocusToggle key.Binding

	// Worker actions.
	Restart key.Binding // Manual restart of the selected worker.
	Ask     key.Binding // Open the prompt input for the selected worker.

	// Global toggles.
	ToggleAutoRestart key.Binding

	// Prompt input mode.
	Submit key.Binding
	Cancel key.Binding

	Quit      key.Binding
	ForceQuit key.Binding
}

// DefaultKeyMap is the built-in key binding set. Vim-style navigation
// (j/k) alongside standard arrow keys.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	FocusToggle: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("Tab", "switch pane"),
	),
	Restart: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "restart worker"),
	),
	Ask: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "chat with agent"),
	),
	ToggleAutoRestart: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle auto-restart"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "send"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q"),
		key.WithHelp("q", "quit"),
	),
	ForceQuit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "force quit"),
	),
}
