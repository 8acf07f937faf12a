package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/buildqueue/internal/events"
	"github.com/aristath/buildqueue/internal/persistence"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneQueue PaneID = iota
	PaneExecutors
	PaneHistory
)

const (
	paneCount       = 3
	refreshInterval = time.Second
	historyTimeout  = 2 * time.Second
)

// Model is the root Bubble Tea model of the queue monitor.
type Model struct {
	source        Source
	queuePane     QueuePaneModel
	executorsPane ExecutorsPaneModel
	historyPane   HistoryPaneModel
	schedulePane  SchedulePaneModel
	focusedPane   PaneID
	eventSub      <-chan events.Event
	width         int
	height        int
	quitting      bool
	showSchedule  bool
	status        string
}

// New creates the monitor. It subscribes to all events of the bus and reads
// everything else from source.
func New(eventBus *events.EventBus, source Source) Model {
	m := Model{
		source:        source,
		queuePane:     NewQueuePaneModel(),
		executorsPane: NewExecutorsPaneModel(),
		historyPane:   NewHistoryPaneModel(),
		schedulePane:  NewSchedulePaneModel(source),
		focusedPane:   PaneQueue,
		eventSub:      eventBus.SubscribeAll(256),
	}
	m.refresh()
	return m
}

// refreshMsg triggers the periodic snapshot refresh.
type refreshMsg struct{}

// historyMsg carries freshly loaded build records.
type historyMsg struct {
	records []persistence.BuildRecord
	err     error
	paused  bool
}

// Init starts the event listener, the refresh ticker and the first history load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), tick(), loadHistory(m.source))
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func loadHistory(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		recs, err := source.History(ctx, "", historyLimit)
		return historyMsg{records: recs, err: err, paused: source.HistoryPaused()}
	}
}

// refresh reloads the queue and executor snapshots.
func (m *Model) refresh() {
	m.queuePane.SetItems(m.source.Items())
	m.executorsPane.SetExecutors(m.source.Executors())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The schedule form gets every key while it is open
		if m.showSchedule {
			var cmd tea.Cmd
			m.schedulePane, cmd = m.schedulePane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.schedulePane.IsVisible() {
				m.showSchedule = false
				m.refresh()
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyBuild:
			m.showSchedule = true
			m.schedulePane.SetVisible(true)
			cmds = append(cmds, m.schedulePane.Init())

		case KeyCancel:
			if m.focusedPane == PaneQueue {
				m.cancelSelected()
			}

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneQueue
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneExecutors
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneHistory
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneQueue:
				var cmd tea.Cmd
				m.queuePane, cmd = m.queuePane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneHistory:
				var cmd tea.Cmd
				m.historyPane, cmd = m.historyPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.schedulePane.SetSize(msg.Width, msg.Height)

	case refreshMsg:
		m.refresh()
		cmds = append(cmds, tick())

	case historyMsg:
		m.historyPane.SetRecords(msg.records, msg.err)
		m.historyPane.SetPaused(msg.paused)

	case events.TaskCompletedEvent, events.TaskFailedEvent:
		m.refresh()
		cmds = append(cmds, loadHistory(m.source), waitForEvent(m.eventSub))

	case events.Event:
		m.refresh()
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) cancelSelected() {
	it, ok := m.queuePane.Selected()
	if !ok {
		return
	}
	if m.source.Cancel(it.ID) {
		m.status = fmt.Sprintf("Cancelled #%d %s", it.ID, it.TaskName)
	} else {
		m.status = fmt.Sprintf("#%d %s already finished", it.ID, it.TaskName)
	}
	m.refresh()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSchedule {
		return m.schedulePane.View()
	}

	right := lipgloss.JoinVertical(lipgloss.Left, m.executorsPane.View(), m.historyPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.queuePane.View(), right)

	footer := HelpView()
	if m.status != "" {
		footer = m.status + "  " + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, footer)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 50) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	executorsHeight := (availableHeight * 40) / 100

	m.queuePane.SetSize(leftWidth, availableHeight)
	m.executorsPane.SetSize(rightWidth, executorsHeight)
	m.historyPane.SetSize(rightWidth, availableHeight-executorsHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.queuePane.SetFocused(m.focusedPane == PaneQueue)
	m.executorsPane.SetFocused(m.focusedPane == PaneExecutors)
	m.historyPane.SetFocused(m.focusedPane == PaneHistory)
}
