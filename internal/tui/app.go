// Package tui renders schedules in the terminal: a Gantt chart, an assignment table and an
// interactive viewer over solutions and journal runs.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/jobshop/internal/models"
)

type mode int

const (
	modeGantt mode = iota
	modeTable
	modeRuns
)

// Loader fetches the problem and result behind a journal run.
type Loader func(runID string) (*models.Problem, *models.Result, error)

// App is the main TUI application model.
type App struct {
	problem  *models.Problem
	result   *models.Result
	viewport viewport.Model
	runs     list.Model
	journal  bool
	load     Loader
	mode     mode
	width    int
	height   int
	message  string
}

type runLoadedMsg struct {
	problem *models.Problem
	result  *models.Result
}

type errMsg struct{ err error }

// New creates a viewer for a single result.
func New(p *models.Problem, res *models.Result) *App {
	a := &App{
		problem:  p,
		result:   res,
		viewport: viewport.New(80, 20),
		runs:     newRunList(nil, 80, 20),
		width:    80,
		height:   24,
	}
	a.refresh()
	return a
}

// NewJournal creates a viewer that browses runs and opens their schedules with load.
func NewJournal(items []RunItem, load Loader) *App {
	return &App{
		viewport: viewport.New(80, 20),
		runs:     newRunList(items, 80, 20),
		journal:  true,
		load:     load,
		mode:     modeRuns,
		width:    80,
		height:   24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Typing into the list filter must not trigger shortcuts.
		if a.mode == modeRuns && a.runs.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "tab":
			switch a.mode {
			case modeGantt:
				a.mode = modeTable
			case modeTable:
				a.mode = modeGantt
			}
			a.refresh()
			return a, nil

		case "esc":
			if a.journal && a.mode != modeRuns {
				a.mode = modeRuns
				a.message = ""
				return a, nil
			}

		case "enter":
			if a.mode == modeRuns {
				return a, a.openSelected()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-4, 1)
		if a.journal {
			a.runs.SetSize(msg.Width, max(msg.Height-2, 1))
		}
		a.refresh()
		return a, nil

	case runLoadedMsg:
		a.problem = msg.problem
		a.result = msg.result
		a.mode = modeGantt
		a.message = ""
		a.refresh()
		return a, nil

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}

	var cmd tea.Cmd
	if a.mode == modeRuns {
		a.runs, cmd = a.runs.Update(msg)
	} else {
		a.viewport, cmd = a.viewport.Update(msg)
	}
	return a, cmd
}

func (a *App) openSelected() tea.Cmd {
	item, ok := a.runs.SelectedItem().(RunItem)
	if !ok || a.load == nil {
		return nil
	}
	id := item.Run.ID
	load := a.load
	return func() tea.Msg {
		p, res, err := load(id)
		if err != nil {
			return errMsg{err}
		}
		return runLoadedMsg{problem: p, result: res}
	}
}

// refresh re-renders the active schedule view into the viewport.
func (a *App) refresh() {
	if a.problem == nil {
		return
	}
	var sol *models.Solution
	if a.result != nil {
		sol = a.result.Solution
	}
	switch a.mode {
	case modeGantt:
		a.viewport.SetContent(RenderGantt(a.problem, sol, a.width))
	case modeTable:
		a.viewport.SetContent(RenderTable(a.problem, sol))
	}
	a.viewport.GotoTop()
}

// View implements tea.Model
func (a *App) View() string {
	if a.mode == modeRuns {
		out := a.runs.View()
		if a.message != "" {
			out += "\n" + lipgloss.NewStyle().Foreground(errorColor).Render(a.message)
		}
		return out
	}

	var b strings.Builder
	header := titleStyle.Render("jobshop")
	if a.problem != nil && a.problem.Name != "" {
		header += " " + labelStyle.Render(a.problem.Name)
	}
	if a.result != nil {
		header += "  " + formatStatus(a.result.Status)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")
	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	status := " Tab:gantt/table | ↑↓:scroll | q:quit"
	if a.journal {
		status = " Tab:gantt/table | ↑↓:scroll | Esc:runs | q:quit"
	}
	if a.message != "" {
		status = " " + a.message
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}
