package runctl

import (
	"context"
	"fmt"

	"github.com/kingoftac/runway/internal/supervisor"
)

// CommandLauncher runs the configured start and stop commands as
// subprocesses.
type CommandLauncher struct {
	StartCommand supervisor.Command
	StopCommand  supervisor.Command
}

func (l *CommandLauncher) Start(ctx context.Context, out supervisor.Sink) (Handle, error) {
	p, err := supervisor.Spawn(ctx, l.StartCommand)
	if err != nil {
		return nil, err
	}
	supervisor.Relay(p, out)
	return p, nil
}

// Stop runs the stop command to completion.
func (l *CommandLauncher) Stop(ctx context.Context, out supervisor.Sink) error {
	status, err := supervisor.Run(ctx, l.StopCommand, out)
	if err != nil {
		return fmt.Errorf("failed to run stop command: %w", err)
	}
	if !status.Success() {
		return fmt.Errorf("stop command %q exited with code %d", l.StopCommand.String(), status.Code)
	}
	return nil
}
