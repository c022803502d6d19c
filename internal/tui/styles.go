package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/jobshop/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")

	// Job bars cycle through this palette.
	jobPalette = []lipgloss.Color{
		"#7C3AED", "#06B6D4", "#10B981", "#F59E0B", "#EF4444",
		"#6366F1", "#EC4899", "#84CC16", "#14B8A6", "#F97316",
	}

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(fgColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	idleStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

func jobStyle(idx int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(jobPalette[idx%len(jobPalette)]).Bold(true)
}

// formatStatus renders a solve status with its color.
func formatStatus(status models.Status) string {
	switch status {
	case models.StatusOptimal:
		return lipgloss.NewStyle().Foreground(successColor).Render("● OPTIMAL")
	case models.StatusFeasible, models.StatusTimeoutWithSolution:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◐ " + string(status))
	case models.StatusInfeasible, models.StatusModelError:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ " + string(status))
	case "":
		return ""
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ " + string(status))
	}
}

// formatRunStatus renders a journal run state with its color.
func formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusPending:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ pending")
	case models.RunStatusClaimed:
		return lipgloss.NewStyle().Foreground(secondaryColor).Render("◐ claimed")
	case models.RunStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● completed")
	case models.RunStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ failed")
	default:
		return string(status)
	}
}
