package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Reverse(true)
)

// stateStyle colours a queue item state.
func stateStyle(s scheduler.ItemState) lipgloss.Style {
	switch s {
	case scheduler.StateBlocked:
		return StyleStatusFailed
	case scheduler.StateBuildable, scheduler.StatePending:
		return StyleStatusRunning
	case scheduler.StateLeft:
		return StyleStatusComplete
	default:
		return StyleStatusPending
	}
}

// resultStyle colours a build result.
func resultStyle(r persistence.BuildResult) lipgloss.Style {
	switch r {
	case persistence.ResultSuccess:
		return StyleStatusComplete
	case persistence.ResultFailure:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// border picks the pane border for the focus state.
func border(focused bool) lipgloss.Style {
	if focused {
		return StyleFocusedBorder
	}
	return StyleUnfocusedBorder
}
