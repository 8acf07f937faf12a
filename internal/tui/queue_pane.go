package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/aristath/buildqueue/internal/scheduler"
)

// QueuePaneModel lists the queued items with their state and cause.
type QueuePaneModel struct {
	items       []scheduler.ItemInfo
	selectedIdx int
	width       int
	height      int
	focused     bool
	now         func() time.Time
}

// NewQueuePaneModel creates an empty queue pane.
func NewQueuePaneModel() QueuePaneModel {
	return QueuePaneModel{now: time.Now}
}

// SetItems replaces the displayed items and keeps the selection in range.
func (m *QueuePaneModel) SetItems(items []scheduler.ItemInfo) {
	m.items = items
	if m.selectedIdx >= len(items) {
		m.selectedIdx = max(0, len(items)-1)
	}
}

// Selected returns the highlighted item.
func (m QueuePaneModel) Selected() (scheduler.ItemInfo, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.items) {
		return scheduler.ItemInfo{}, false
	}
	return m.items[m.selectedIdx], true
}

// Update handles messages for the queue pane.
func (m QueuePaneModel) Update(msg tea.Msg) (QueuePaneModel, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && m.focused {
		switch km.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.items)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		}
	}
	return m, nil
}

// View renders the queue pane.
func (m QueuePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("Queue (%d)", len(m.items))))
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		b.WriteString(StyleStatusPending.Render("Nothing queued"))
	}
	for i, it := range m.items {
		line := m.row(it)
		if i == m.selectedIdx && m.focused {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return border(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m QueuePaneModel) row(it scheduler.ItemInfo) string {
	state := stateStyle(it.State).Render(fmt.Sprintf("%-9s", it.State))
	line := fmt.Sprintf("#%-4d %-24s %s queued %s", it.ID, it.TaskName, state, humanize.Time(it.InQueueSince))
	switch {
	case it.Cause != nil:
		line += "\n      " + it.Why()
	case it.NotBefore.After(m.now()):
		line += "\n      quiet period ends " + humanize.Time(it.NotBefore)
	}
	return line
}

// SetSize updates the pane dimensions.
func (m *QueuePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *QueuePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
