package runctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kingoftac/runway/internal/models"
)

// reconcile polls the server state file while the run is starting or
// running and exits as soon as the run is in any other state.
func (c *Controller) reconcile(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.finished:
			return
		case <-timer.C:
		}

		state := c.State()
		if !state.IsActive() {
			slog.Debug("Reconciler stopped", "component", "runctl", "state", state)
			return
		}
		if state == models.RunStateStarting {
			c.checkStarting()
		} else {
			c.checkRunning()
		}

		interval := c.cfg.StartPollInterval
		if c.State() == models.RunStateRunning {
			interval = c.cfg.RunningPollInterval
		}
		timer.Reset(interval)
	}
}

// checkStarting moves to running once a live server for our environment has
// published its state, and gives up when a server for another environment
// holds the project.
func (c *Controller) checkStarting() {
	snap, ok, err := c.cfg.State.Read()
	if err != nil {
		// Usually a write caught half way; the next tick sees the full file.
		slog.Debug("Server state not readable yet", "component", "runctl", "error", err)
		return
	}
	if !ok || !snap.Running || !c.cfg.Alive(snap.PID) {
		return
	}

	if snap.Env != c.cfg.Env {
		c.submit(context.Background(), transition{
			from:   []models.RunState{models.RunStateStarting},
			to:     models.RunStateCancelled,
			reason: fmt.Sprintf(reasonEnvConflictFormat, c.cfg.Env, snap.Env),
			err:    ErrEnvironmentConflict,
			then:   c.terminateHandle,
		})
		return
	}

	c.submit(context.Background(), transition{
		from:     []models.RunState{models.RunStateStarting},
		to:       models.RunStateRunning,
		snapshot: &snap,
	})
}

// checkRunning cancels the run once the server we captured is gone: its
// process died, its state file was removed, or another server replaced it.
func (c *Controller) checkRunning() {
	captured := c.Current().Snapshot

	if !c.cfg.Alive(captured.PID) {
		c.stoppedExternally("process gone")
		return
	}

	snap, ok, err := c.cfg.State.Read()
	if err != nil {
		slog.Debug("Server state not readable", "component", "runctl", "error", err)
		return
	}
	if !ok {
		c.stoppedExternally("state removed")
		return
	}
	if snap != captured {
		c.stoppedExternally("state changed")
	}
}

func (c *Controller) stoppedExternally(why string) {
	slog.Info("Server no longer matches captured state", "component", "runctl", "why", why)
	c.submit(context.Background(), transition{
		from:   []models.RunState{models.RunStateRunning},
		to:     models.RunStateCancelled,
		reason: reasonStoppedExternally,
		err:    ErrStoppedExternally,
		then:   c.terminateHandle,
	})
}
