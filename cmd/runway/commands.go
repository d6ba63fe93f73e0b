package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kingoftac/runway/internal/control"
	"github.com/kingoftac/runway/internal/db"
	"github.com/kingoftac/runway/internal/fmtc"
	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/project"
	"github.com/kingoftac/runway/internal/supervisor"
	"github.com/kingoftac/runway/internal/tui"
)

const stopTimeout = 5 * time.Second

func stopHandler(ctx context.Context) error {
	proj, err := project.Find(".")
	if err != nil {
		return err
	}

	snap, ok, err := control.NewStateFile(proj.ControlDir).Read()
	if err != nil {
		return fmt.Errorf("failed to read server state: %w", err)
	}
	if !ok || !snap.Running || !supervisor.Alive(snap.PID) {
		// A request left behind here would stop the next server to start.
		fmt.Println("No server is running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	req := models.ServerRequest{Type: models.RequestTypeStop}
	if err := control.NewRequestsFile(proj.ControlDir).Enqueue(ctx, req); err != nil {
		return fmt.Errorf("failed to queue stop request: %w", err)
	}

	fmtc.Printf("Asked the {bold}%s{reset} server (PID = %d) to stop.\n", snap.Env.DisplayName(), snap.PID)
	return nil
}

func statusHandler(ctx context.Context) error {
	proj, err := project.Find(".")
	if err != nil {
		return err
	}

	state := control.NewStateFile(proj.ControlDir)
	snap, ok, err := state.Read()
	if errors.Is(err, control.ErrTornRead) {
		fmt.Println("Server state is being written, try again in a moment.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read server state: %w", err)
	}
	if !ok {
		fmt.Println("No server is running.")
		return nil
	}

	alive := snap.Running && supervisor.Alive(snap.PID)
	if alive {
		fmtc.Printf("{green}%s server is running{reset} at {cyan}%s{reset} (PID = %d)\n", snap.Env.DisplayName(), tui.ServerURL(snap), snap.PID)
	} else {
		fmtc.Printf("{yellow}Stale server state{reset}: %s server with PID %d is not running\n", snap.Env.DisplayName(), snap.PID)
	}

	if info, err := os.Stat(state.Path()); err == nil {
		fmt.Printf("State written %s\n", humanize.Time(info.ModTime()))
	}

	pending, err := control.NewRequestsFile(proj.ControlDir).Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending requests: %w", err)
	}
	if len(pending) > 0 {
		fmt.Printf("%d pending request(s)\n", len(pending))
	}
	return nil
}

func historyHandler(ctx context.Context, limit int) error {
	history, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer history.Close()

	invocations, err := history.ListInvocations(limit)
	if err != nil {
		return err
	}
	if len(invocations) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-10s %-20s %-5s %-10s %-16s %-10s %s\n", "ID", "Project", "Env", "State", "Started", "Duration", "Reason")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, inv := range invocations {
		duration := "N/A"
		if !inv.FinishedAt.IsZero() {
			duration = inv.FinishedAt.Sub(inv.StartedAt).Round(time.Second).String()
		}

		fmt.Printf("%-10s %-20s %-5s %-10s %-16s %-10s %s\n",
			truncateString(inv.ID, 10),
			truncateString(inv.Project, 20),
			inv.Env,
			inv.State,
			humanize.Time(inv.StartedAt),
			duration,
			inv.Reason)
	}

	return nil
}

func showRunHandler(ctx context.Context, id string) error {
	history, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer history.Close()

	inv, err := history.GetInvocation(id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", inv.ID)
	fmt.Printf("Project:  %s\n", inv.Project)
	fmt.Printf("Env:      %s\n", inv.Env.DisplayName())
	fmtc.Printf("State:    {bold}%s{reset}\n", inv.State)
	if inv.Reason != "" {
		fmt.Printf("Reason:   %s\n", inv.Reason)
	}
	if inv.PID != 0 {
		fmt.Printf("Server:   http://localhost:%d (PID = %d)\n", inv.Port, inv.PID)
	}
	fmt.Printf("Started:  %s (%s)\n", inv.StartedAt.Format(time.RFC3339), humanize.Time(inv.StartedAt))
	if !inv.FinishedAt.IsZero() {
		fmt.Printf("Finished: %s (ran %s)\n", inv.FinishedAt.Format(time.RFC3339), inv.FinishedAt.Sub(inv.StartedAt).Round(time.Second))
	}
	return nil
}

func initHandler(ctx context.Context, title string) error {
	proj, err := project.Init(".", title)
	if err != nil {
		return err
	}

	fmt.Printf("Initialized runway project %q in %s\n", proj.Name(), proj.ControlDir)
	return nil
}
