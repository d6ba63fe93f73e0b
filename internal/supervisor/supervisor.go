// Package supervisor starts the build/server subprocess, relays its output
// line by line, and terminates it on request.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// KillGrace is how long TerminateAndWait waits after the polite termination
// signal before it kills the process group outright.
var KillGrace = 5 * time.Second

type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type ExitStatus struct {
	// Code is the process exit code, or -1 when it was ended by a signal.
	Code int
}

func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// Process is the handle for one spawned subprocess. Its output pipes must be
// consumed, normally by Relay, or the child blocks once they fill up.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	stdout *os.File
	stderr *os.File

	done   chan struct{}
	status ExitStatus

	termOnce sync.Once
	killOnce sync.Once
}

// Spawn starts c in its own process group with stdout and stderr attached to
// pipes.
func Spawn(ctx context.Context, c Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Command: c.String(), Err: err}
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, &SpawnError{Command: c.String(), Err: errors.New("command is required")}
	}

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	setProcAttrs(cmd)

	// Pipes are created by hand rather than with StdoutPipe so that Wait
	// never closes them under a reader that is still draining.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: c.String(), Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &SpawnError{Command: c.String(), Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, &SpawnError{Command: c.String(), Err: err}
	}

	// The child holds its own copies now.
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}

	slog.Info("Started process", "component", "supervisor", "command", c.String(), "pid", p.pid)

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.status = ExitStatus{Code: code}

	slog.Info("Process exited", "component", "supervisor", "pid", p.pid, "code", code)
	close(p.done)
}

func (p *Process) PID() int {
	return p.pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Status returns the exit status. It is only meaningful after Done is closed.
func (p *Process) Status() ExitStatus {
	<-p.done
	return p.status
}

// Terminate asks the process group to exit and returns immediately.
func (p *Process) Terminate() {
	if p.Exited() {
		return
	}
	p.termOnce.Do(func() {
		if err := terminate(p.cmd.Process); err != nil {
			slog.Debug("Terminate signal failed", "component", "supervisor", "pid", p.pid, "error", err)
		}
	})
}

func (p *Process) kill() {
	p.killOnce.Do(func() {
		slog.Warn("Process did not exit in time, killing", "component", "supervisor", "pid", p.pid)
		if err := kill(p.cmd.Process); err != nil {
			slog.Debug("Kill signal failed", "component", "supervisor", "pid", p.pid, "error", err)
		}
	})
}

// TerminateAndWait asks the process to exit and blocks until it has. The
// process is killed when it outlives KillGrace or ctx. Calling it on a process
// that already exited just returns its status, and concurrent callers all
// get the same result from a single signal.
func (p *Process) TerminateAndWait(ctx context.Context) ExitStatus {
	if p.Exited() {
		return p.status
	}

	p.Terminate()

	grace := time.NewTimer(KillGrace)
	defer grace.Stop()

	select {
	case <-p.done:
	case <-grace.C:
		p.kill()
		<-p.done
	case <-ctx.Done():
		p.kill()
		<-p.done
	}
	return p.status
}
