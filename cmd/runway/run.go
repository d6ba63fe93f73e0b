package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/kingoftac/runway/internal/control"
	"github.com/kingoftac/runway/internal/db"
	"github.com/kingoftac/runway/internal/fmtc"
	"github.com/kingoftac/runway/internal/logging"
	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/project"
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/tui"
)

func runHandler(ctx context.Context, envName string, debug bool) error {
	env, err := models.ParseEnvironment(envName)
	if err != nil {
		return err
	}

	proj, err := project.Find(".")
	if err != nil {
		return err
	}

	closeLog, err := logging.SetupFile(proj.LogPath(), debug)
	if err != nil {
		return err
	}
	defer closeLog()

	inv := &models.Invocation{Project: proj.Name(), Env: env, State: models.RunStateStarting}
	history := recordStart(inv)
	if history != nil {
		defer history.Close()
	}

	launcher := &runctl.CommandLauncher{
		StartCommand: proj.StartCommand(env),
		StopCommand:  proj.StopCommand(env),
	}
	cfg := runctl.Config{
		Env:      env,
		State:    control.NewStateFile(proj.ControlDir),
		Requests: control.NewRequestsFile(proj.ControlDir),
		Launcher: launcher,
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	slog.Info("Starting run", "component", "cli", "env", env, "root", proj.Root, "command", launcher.StartCommand.String())

	var final runctl.Update
	if term.IsTerminal(int(os.Stdin.Fd())) {
		final, err = runInteractive(ctx, env, cfg, sigs)
	} else {
		final = runPlain(ctx, env, cfg, sigs)
	}

	recordFinish(history, inv, final)

	if err != nil {
		return err
	}
	return exitError(final)
}

func runInteractive(ctx context.Context, env models.Environment, cfg runctl.Config, sigs <-chan os.Signal) (runctl.Update, error) {
	app := tui.NewApp(env)
	cfg.OnUpdate = app.Publish
	cfg.OnOutput = app.Relay
	ctrl := runctl.New(cfg)

	go handleSignals(ctrl, sigs, app.Kill)

	return app.Run(ctx, ctrl)
}

func runPlain(ctx context.Context, env models.Environment, cfg runctl.Config, sigs <-chan os.Signal) runctl.Update {
	fmtc.SetEnabled(fmtc.Enabled() && term.IsTerminal(int(os.Stdout.Fd())))

	plain := tui.NewPlain(env, os.Stdout, os.Stderr)
	cfg.OnUpdate = plain.Publish
	cfg.OnOutput = plain.Relay
	ctrl := runctl.New(cfg)

	abandoned := make(chan struct{})
	go handleSignals(ctrl, sigs, func() { close(abandoned) })

	result := make(chan runctl.Update, 1)
	go func() { result <- ctrl.Run(ctx) }()

	select {
	case u := <-result:
		return u
	case <-abandoned:
		return ctrl.Current()
	}
}

// handleSignals routes a process interrupt to the controller. If the run is
// still not finished once the interrupt deadline passed, abandon is called so
// the process can exit anyway.
func handleSignals(ctrl *runctl.Controller, sigs <-chan os.Signal, abandon func()) {
	select {
	case sig := <-sigs:
		slog.Info("Received signal", "component", "cli", "signal", sig.String())
		ctrl.Interrupt()
		if !ctrl.State().IsTerminal() {
			slog.Warn("Run did not finish after interrupt, exiting anyway", "component", "cli", "state", ctrl.State())
			abandon()
		}
	case <-ctrl.Finished():
	}
}

// exitError maps the terminal update to the command's result: nil exits 0.
func exitError(u runctl.Update) error {
	switch {
	case u.State == models.RunStateStopped:
		return nil
	case errors.Is(u.Err, runctl.ErrUserCancelled):
		return nil
	case u.Err != nil:
		return fmt.Errorf("run %s: %w", u.State, u.Err)
	default:
		return fmt.Errorf("run ended in state %s", u.State)
	}
}

// recordStart opens the history database and records inv. History is best
// effort; a nil DB means it is unavailable.
func recordStart(inv *models.Invocation) *db.DB {
	history, err := db.NewDB(dbPath)
	if err != nil {
		slog.Warn("History unavailable", "component", "cli", "error", err)
		return nil
	}
	if err := history.InsertInvocation(inv); err != nil {
		slog.Warn("Failed to record run", "component", "cli", "error", err)
		history.Close()
		return nil
	}
	return history
}

func recordFinish(history *db.DB, inv *models.Invocation, u runctl.Update) {
	if history == nil {
		return
	}

	inv.State = u.State
	inv.Reason = u.Reason
	inv.Port = u.Snapshot.Port
	inv.PID = u.Snapshot.PID

	if err := history.FinishInvocation(inv); err != nil {
		slog.Warn("Failed to record run result", "component", "cli", "id", inv.ID, "error", err)
		return
	}
	if err := history.PruneInvocations(db.MaxInvocations); err != nil {
		slog.Warn("Failed to prune history", "component", "cli", "error", err)
	}
}
