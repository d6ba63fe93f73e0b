package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one complete line of subprocess output, without its newline.
type Line struct {
	Stream Stream
	Text   string
}

// Sink receives relayed lines. It is called from the relay goroutines, one
// per stream, so it must be safe for concurrent use.
type Sink func(Line)

// relayDrainTimeout bounds how long Run waits for output after the process
// exits. Grandchildren that inherited the pipes can keep them open forever.
var relayDrainTimeout = time.Second

// Relay starts a reader goroutine for each of the process's output streams.
// The returned channel is closed once both streams reached end of file.
func Relay(p *Process, sink Sink) <-chan struct{} {
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go relayStream(p.stdout, Stdout, sink, &wg)
	go relayStream(p.stderr, Stderr, sink, &wg)

	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// maxLineLength is the longest Line a relay emits. Longer lines are passed on
// in pieces of this size.
const maxLineLength = 1024 * 1024

func relayStream(r *os.File, stream Stream, sink Sink, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	emit := func(text []byte) {
		if sink != nil {
			sink(Line{Stream: stream, Text: string(text)})
		}
	}

	reader := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	split := false
	for {
		chunk, more, err := reader.ReadLine()
		if err != nil {
			if len(line) > 0 {
				emit(line)
			}
			if !errors.Is(err, io.EOF) {
				slog.Warn("Stopped relaying output", "component", "supervisor", "stream", stream.String(), "error", err)
			}
			return
		}

		line = append(line, chunk...)
		for len(line) >= maxLineLength {
			emit(line[:maxLineLength])
			line = append(line[:0], line[maxLineLength:]...)
			split = true
		}
		if more {
			continue
		}

		// A line that ended exactly on a piece boundary has nothing left over.
		if len(line) > 0 || !split {
			emit(line)
		}
		line, split = line[:0], false
	}
}

// Run spawns c, relays its output to sink and waits for it to finish. If ctx
// ends first the process is terminated.
func Run(ctx context.Context, c Command, sink Sink) (ExitStatus, error) {
	p, err := Spawn(ctx, c)
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	relayed := Relay(p, sink)

	select {
	case <-p.Done():
	case <-ctx.Done():
		p.TerminateAndWait(ctx)
	}

	select {
	case <-relayed:
	case <-time.After(relayDrainTimeout):
		slog.Debug("Output still open after exit", "component", "supervisor", "pid", p.PID())
	}

	status := p.Status()
	if err := ctx.Err(); err != nil {
		return status, err
	}
	return status, nil
}
