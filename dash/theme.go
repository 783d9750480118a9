// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package dash

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/worker"
)

// Theme defines the dashboard's color palette. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Lifecycle colors, keyed by the worker's self-reported status.
	LifecycleSpawning lipgloss.Color
	LifecycleActive   lipgloss.Color
	LifecycleIdle     lipgloss.Color
	LifecycleFailed   lipgloss.Color
	LifecycleStopped  lipgloss.Color

	// Health colors, keyed by the latest verdict.
	HealthOK       lipgloss.Color
	HealthStale    lipgloss.Color
	HealthCrash    lipgloss.Color
	HealthCorrupt  lipgloss.Color
	AlertInfo      lipgloss.Color
	AlertWarning   lipgloss.Color
	AlertError     lipgloss.Color
	HeaderText     lipgloss.Color
	BorderColor    lipgloss.Color
	HelpText       lipgloss.Color
	DegradedBanner lipgloss.Color
}

// DefaultTheme is the built-in palette.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	SelectedBackground: lipgloss.Color("237"),
	SelectedForeground: lipgloss.Color("255"),

	LifecycleSpawning: lipgloss.Color("111"),
	LifecycleActive:   lipgloss.Color("114"),
	LifecycleIdle:     lipgloss.Color("250"),
	LifecycleFailed:   lipgloss.Color("203"),
	LifecycleStopped:  lipgloss.Color("243"),

	HealthOK:       lipgloss.Color("114"),
	HealthStale:    lipgloss.Color("221"),
	HealthCrash:    lipgloss.Color("203"),
	HealthCorrupt:  lipgloss.Color("215"),
	AlertInfo:      lipgloss.Color("250"),
	AlertWarning:   lipgloss.Color("221"),
	AlertError:     lipgloss.Color("203"),
	HeaderText:     lipgloss.Color("255"),
	BorderColor:    lipgloss.Color("240"),
	HelpText:       lipgloss.Color("243"),
	DegradedBanner: lipgloss.Color("215"),
}

// LifecycleColor returns the color for a worker's self-reported
// status. Unknown values render faint.
func (theme Theme) LifecycleColor(status worker.Lifecycle) lipgloss.Color {
	switch status {
	case worker.Spawning:
		return theme.LifecycleSpawning
	case worker.Active:
		return theme.LifecycleActive
	case worker.Idle:
		return theme.LifecycleIdle
	case worker.Failed:
		return theme.LifecycleFailed
	case worker.Stopped:
		return theme.LifecycleStopped
	default:
		return theme.FaintText
	}
}

// HealthColor returns the color for a health verdict kind.
func (theme Theme) HealthColor(kind health.Kind) lipgloss.Color {
	switch kind {
	case health.Healthy:
		return theme.HealthOK
	case health.Stale:
		return theme.HealthStale
	case health.ProcessGone, health.SessionGone:
		return theme.HealthCrash
	case health.Corrupted:
		return theme.HealthCorrupt
	default:
		return theme.FaintText
	}
}
