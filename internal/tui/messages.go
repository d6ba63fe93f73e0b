package tui

import (
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/supervisor"
)

// UpdateMsg carries a controller update into the program.
type UpdateMsg runctl.Update

// OutputMsg carries one line of server output.
type OutputMsg supervisor.Line

// actionDoneMsg is returned by the commands that call into the controller.
type actionDoneMsg struct{}
