package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/supervisor"
)

// Runner is a controller the UI can drive to completion.
type Runner interface {
	Controller
	Run(ctx context.Context) runctl.Update
	Current() runctl.Update
}

// App renders one run interactively. Create it before the controller so the
// controller's callbacks can point at Publish and Relay.
type App struct {
	program *tea.Program
	ctrl    Controller
}

func NewApp(env models.Environment, opts ...tea.ProgramOption) *App {
	a := &App{}
	// Signals are routed to the controller by the caller.
	opts = append([]tea.ProgramOption{tea.WithoutSignalHandler()}, opts...)
	a.program = tea.NewProgram(NewModel(a, env), opts...)
	return a
}

// Publish forwards a controller update to the program.
func (a *App) Publish(u runctl.Update) {
	a.program.Send(UpdateMsg(u))
}

// Relay forwards a line of server output to the program.
func (a *App) Relay(l supervisor.Line) {
	a.program.Send(OutputMsg(l))
}

func (a *App) Cancel() {
	if a.ctrl != nil {
		a.ctrl.Cancel()
	}
}

func (a *App) Interrupt() {
	if a.ctrl != nil {
		a.ctrl.Interrupt()
	}
}

// Run starts ctrl and the program together and returns the terminal update.
func (a *App) Run(ctx context.Context, ctrl Runner) (runctl.Update, error) {
	a.ctrl = ctrl

	result := make(chan runctl.Update, 1)
	go func() { result <- ctrl.Run(ctx) }()

	if _, err := a.program.Run(); err != nil {
		slog.Error("UI exited with error", "component", "tui", "error", err)
		ctrl.Interrupt()
		select {
		case u := <-result:
			return u, fmt.Errorf("failed to run UI: %w", err)
		default:
			return ctrl.Current(), fmt.Errorf("failed to run UI: %w", err)
		}
	}

	return <-result, nil
}

// Kill tears the program down without waiting for the controller, for when
// the process must exit right away.
func (a *App) Kill() {
	a.program.Kill()
}
