package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/jobshop/internal/models"
)

var listTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("205"))

// RunItem implements list.Item for a journal run.
type RunItem struct {
	Run     models.Run
	Problem string
}

func (i RunItem) FilterValue() string { return i.Problem + " " + i.Run.ID }
func (i RunItem) Title() string {
	return fmt.Sprintf("%s  %s", shortID(i.Run.ID), i.Problem)
}
func (i RunItem) Description() string {
	desc := formatRunStatus(i.Run.Status)
	if i.Run.Result != nil {
		desc += "  " + formatStatus(i.Run.Result.Status)
		if s := i.Run.Result.Solution; s != nil {
			desc += fmt.Sprintf("  makespan %d", s.Makespan)
		}
	}
	if i.Run.Error != "" {
		desc += "  " + i.Run.Error
	}
	return desc
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newRunList(items []RunItem, width, height int) list.Model {
	delegate := list.NewDefaultDelegate()
	li := make([]list.Item, len(items))
	for i, it := range items {
		li[i] = it
	}
	l := list.New(li, delegate, width, height)
	l.Title = "Runs"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = listTitleStyle
	return l
}
