package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/kingoftac/runway/internal/fmtc"
	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/supervisor"
)

// Plain prints a run line by line for when stdin is not a terminal. There is
// no key handling; only signals end the run early.
type Plain struct {
	env    models.Environment
	out    io.Writer
	errOut io.Writer

	mu        sync.Mutex
	sawOutput bool
	last      models.RunState
}

func NewPlain(env models.Environment, out, errOut io.Writer) *Plain {
	return &Plain{env: env, out: out, errOut: errOut}
}

func (p *Plain) Publish(u runctl.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.State == p.last {
		return
	}
	p.last = u.State

	color := "{bold}"
	switch u.State {
	case models.RunStateRunning, models.RunStateStopped:
		color = "{green}"
	case models.RunStateCancelling, models.RunStateCancelled:
		color = "{yellow}"
	}

	suffix := ""
	switch u.State {
	case models.RunStateStarting, models.RunStateStopping, models.RunStateCancelling:
		suffix = "..."
	}

	fmtc.Fprintf(p.out, color+"%s%s{reset}\n", Headline(u, p.env), suffix)
}

func (p *Plain) Relay(l supervisor.Line) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sawOutput {
		p.sawOutput = true
		fmt.Fprintln(p.out)
	}

	if l.Stream == supervisor.Stderr {
		fmtc.Fprintf(p.errOut, "{red}%s{reset}\n", l.Text)
		return
	}
	fmtc.Fprintf(p.out, "{dim}%s{reset}\n", l.Text)
}
