package tui

import (
	"fmt"
	"strings"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/supervisor"
)

// Headline is the one line description of a run, without styling.
func Headline(u runctl.Update, env models.Environment) string {
	name := env.DisplayName()
	switch u.State {
	case models.RunStateStarting:
		return fmt.Sprintf("Starting a runway server (%s)", name)
	case models.RunStateRunning:
		return fmt.Sprintf("runway server (%s) is running at %s (PID = %d)", name, ServerURL(u.Snapshot), u.Snapshot.PID)
	case models.RunStateStopping:
		return "Server is stopping"
	case models.RunStateStopped:
		return "Server stopped gracefully."
	case models.RunStateCancelling:
		return "Server startup cancelling: " + u.Reason
	case models.RunStateCancelled:
		return "Server startup cancelled: " + u.Reason
	default:
		return string(u.State)
	}
}

// Hint is the key help shown under the headline, if any.
func Hint(s models.RunState) string {
	switch s {
	case models.RunStateStarting:
		return "Press Q anytime to cancel."
	case models.RunStateRunning:
		return "Press Q anytime to stop it."
	default:
		return ""
	}
}

func ServerURL(s models.ServerSnapshot) string {
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

func renderStatus(u runctl.Update, env models.Environment, ellipsis string) string {
	var b strings.Builder

	style := StateStyle(u.State)
	if u.State == models.RunStateRunning {
		b.WriteString(style.Render(fmt.Sprintf("runway server (%s) is running at", env.DisplayName())))
		b.WriteString(" ")
		b.WriteString(URLStyle.Render(ServerURL(u.Snapshot)))
		b.WriteString(fmt.Sprintf(" (PID = %d)", u.Snapshot.PID))
	} else {
		b.WriteString(style.Render(Headline(u, env)))
	}

	switch u.State {
	case models.RunStateStarting, models.RunStateStopping, models.RunStateCancelling:
		b.WriteString(ellipsis)
	}
	b.WriteString("\n")

	if hint := Hint(u.State); hint != "" {
		b.WriteString(HelpStyle.Render(strings.Replace(hint, "Q", HelpKeyStyle.Render("Q"), 1)))
		b.WriteString("\n")
	}

	return b.String()
}

func renderLine(l supervisor.Line) string {
	if l.Stream == supervisor.Stderr {
		return StderrStyle.Render(l.Text)
	}
	return StdoutStyle.Render(l.Text)
}
