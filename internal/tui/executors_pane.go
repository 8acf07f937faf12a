package tui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aristath/buildqueue/internal/executor"
)

// ExecutorsPaneModel shows what every executor is doing.
type ExecutorsPaneModel struct {
	executors []executor.Status
	width     int
	height    int
	focused   bool
}

// NewExecutorsPaneModel creates an empty executors pane.
func NewExecutorsPaneModel() ExecutorsPaneModel {
	return ExecutorsPaneModel{}
}

// SetExecutors replaces the displayed executors.
func (m *ExecutorsPaneModel) SetExecutors(st []executor.Status) {
	m.executors = st
}

// View renders the executors pane.
func (m ExecutorsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	busy := 0
	for _, e := range m.executors {
		if e.Busy {
			busy++
		}
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("Executors (%d/%d busy)", busy, len(m.executors))))
	b.WriteString("\n\n")
	for _, e := range m.executors {
		switch {
		case !e.Online:
			b.WriteString(fmt.Sprintf("%-16s %s\n", e.Name, StyleStatusFailed.Render("offline")))
		case e.Busy:
			b.WriteString(fmt.Sprintf("%-16s %s %s since %s\n", e.Name, StyleStatusRunning.Render("building"), e.Task, humanize.Time(e.Since)))
		default:
			b.WriteString(fmt.Sprintf("%-16s %s\n", e.Name, StyleStatusPending.Render("idle")))
		}
	}

	return border(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ExecutorsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ExecutorsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
