package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kingoftac/runway/internal/models"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#6C6C6C")
	accentColor    = lipgloss.Color("#04B575")
	errorColor     = lipgloss.Color("#FF5F56")
	warningColor   = lipgloss.Color("#FFBD2E")
	infoColor      = lipgloss.Color("#27C7FA")

	TitleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	RunningStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	URLStyle = lipgloss.NewStyle().
			Foreground(infoColor).
			Underline(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	StdoutStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	StderrStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)
)

// StateStyle is the style for the status line of a run in state s.
func StateStyle(s models.RunState) lipgloss.Style {
	switch s {
	case models.RunStateRunning:
		return RunningStyle
	case models.RunStateCancelling, models.RunStateCancelled:
		return WarningStyle
	case models.RunStateStopped:
		return RunningStyle.Bold(false)
	default:
		return TitleStyle.Bold(false)
	}
}
