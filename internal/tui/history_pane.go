package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/aristath/buildqueue/internal/persistence"
)

// historyLimit is how many finished builds the pane loads.
const historyLimit = 100

// HistoryPaneModel shows recent finished builds in a scrollable viewport.
type HistoryPaneModel struct {
	records  []persistence.BuildRecord
	err      error
	paused   bool
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewHistoryPaneModel creates an empty history pane.
func NewHistoryPaneModel() HistoryPaneModel {
	return HistoryPaneModel{viewport: viewport.New(0, 0)}
}

// SetRecords replaces the displayed builds.
func (m *HistoryPaneModel) SetRecords(recs []persistence.BuildRecord, err error) {
	m.err = err
	if err == nil {
		m.records = recs
	}
	m.updateViewportContent()
}

// SetPaused marks that new builds are not being recorded.
func (m *HistoryPaneModel) SetPaused(paused bool) {
	m.paused = paused
}

// Update scrolls the viewport when focused.
func (m HistoryPaneModel) Update(msg tea.Msg) (HistoryPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	if _, ok := msg.(tea.KeyMsg); ok && m.focused {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *HistoryPaneModel) updateViewportContent() {
	var b strings.Builder
	if m.err != nil {
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("history unavailable: %v", m.err)))
		b.WriteString("\n")
	}
	if len(m.records) == 0 {
		b.WriteString(StyleStatusPending.Render("No finished builds"))
	}
	for _, r := range m.records {
		result := resultStyle(r.Result).Render(fmt.Sprintf("%-8s", r.Result))
		b.WriteString(fmt.Sprintf("%s %-24s %-12s %8s  %s\n",
			result, r.TaskName, r.Node, r.Duration.Round(time.Millisecond), humanize.Time(r.FinishedAt)))
		if r.Problem != "" {
			b.WriteString("         " + r.Problem + "\n")
		}
	}
	m.viewport.SetContent(b.String())
}

// View renders the history pane.
func (m HistoryPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	title := StyleTitle.Render("History")
	if m.paused {
		title += " " + StyleStatusFailed.Render("(recording paused)")
	}
	return border(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(title + "\n" + m.viewport.View())
}

// SetSize updates the pane dimensions.
func (m *HistoryPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// Border (2) and title (1)
	m.viewport.Width = max(0, w-2)
	m.viewport.Height = max(0, h-3)
}

// SetFocused updates the focus state.
func (m *HistoryPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
