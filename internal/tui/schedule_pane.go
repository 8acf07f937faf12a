package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// SchedulePaneModel is the "schedule build" form overlay.
type SchedulePaneModel struct {
	form    *huh.Form
	source  Source
	width   int
	height  int
	visible bool
	err     error

	// Form field bindings, shared by every copy of the model
	fields *scheduleFields
}

type scheduleFields struct {
	jobName      string
	quietSeconds string
}

// NewSchedulePaneModel creates the form for the jobs of source.
func NewSchedulePaneModel(source Source) SchedulePaneModel {
	m := SchedulePaneModel{source: source, fields: &scheduleFields{}}
	m.buildForm()
	return m
}

func (m *SchedulePaneModel) buildForm() {
	names := m.source.JobNames()
	m.fields.jobName = ""
	if len(names) > 0 {
		m.fields.jobName = names[0]
	}
	m.fields.quietSeconds = ""

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("job").
				Title("Job").
				Options(huh.NewOptions(names...)...).
				Value(&m.fields.jobName),

			huh.NewInput().
				Key("quiet").
				Title("Quiet period (seconds)").
				Placeholder("job default").
				Validate(validateQuiet).
				Value(&m.fields.quietSeconds),
		).Title("Schedule Build"),
	)
}

// validateQuiet accepts an empty value or a non-negative number of seconds.
func validateQuiet(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a number of seconds")
	}
	return nil
}

// quiet converts the quiet field. Empty means the job's own quiet period.
func (m SchedulePaneModel) quiet() time.Duration {
	if m.fields.quietSeconds == "" {
		return -1
	}
	n, _ := strconv.Atoi(m.fields.quietSeconds)
	return time.Duration(n) * time.Second
}

// Init initializes the form.
func (m SchedulePaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the form.
func (m SchedulePaneModel) Update(msg tea.Msg) (SchedulePaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == KeyEsc {
		m.visible = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}
	if m.form.State == huh.StateCompleted {
		m.submit()
	}
	return m, cmd
}

// submit schedules the chosen job and hides the form on success.
func (m *SchedulePaneModel) submit() {
	if m.fields.jobName == "" {
		m.err = fmt.Errorf("no jobs configured")
		return
	}
	m.err = m.source.Submit(m.fields.jobName, m.quiet())
	if m.err == nil {
		m.visible = false
	}
}

// View renders the form.
func (m SchedulePaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error scheduling: %v", m.err))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(0, m.width-4)).
		Height(max(0, m.height-4)).
		Render(content)
}

// SetSize updates the dimensions of the form.
func (m *SchedulePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(0, w-8)).WithHeight(max(0, h-8))
	}
}

// SetVisible shows or hides the form. Showing rebuilds it, so the job list
// and the field values start fresh.
func (m *SchedulePaneModel) SetVisible(v bool) {
	m.visible = v
	m.err = nil
	if v {
		m.buildForm()
		m.form.WithWidth(max(0, m.width-8)).WithHeight(max(0, m.height-8))
	}
}

// IsVisible returns whether the form is shown.
func (m SchedulePaneModel) IsVisible() bool {
	return m.visible
}
