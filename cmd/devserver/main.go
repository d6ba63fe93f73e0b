// Command devserver is a small site server that follows runway's control
// folder protocol. Point server.start in .runway/conf.yaml at it to try runway
// without a build tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kingoftac/flagon/cli"
	"github.com/kingoftac/runway/internal/control"
	"github.com/kingoftac/runway/internal/logging"
	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/project"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	root    string
	env     string
	port    int
	poll    time.Duration
	startup time.Duration
}

func main() {
	logging.Setup(os.Stderr, os.Getenv("RUNWAY_DEBUG") != "")

	var opts options
	c := cli.New(&cli.Command{
		Name:        "devserver",
		Description: "Serve a runway project and answer its control requests",
		Flags: func(fs *flag.FlagSet) {
			fs.StringVar(&opts.root, "root", ".", "Project directory")
			fs.StringVar(&opts.env, "env", os.Getenv("RUNWAY_ENV"), "Environment to report: dev or prod")
			fs.IntVar(&opts.port, "port", envInt("RUNWAY_PORT"), "Port to listen on (defaults to the project's)")
			fs.DurationVar(&opts.poll, "poll", 300*time.Millisecond, "How often to check for requests")
			fs.DurationVar(&opts.startup, "startup-delay", 0, "Pretend to build for this long before serving")
		},
		Handler: func(ctx context.Context) error {
			return serve(ctx, opts)
		},
	}, cli.WithLogger(log.New(os.Stderr, "[devserver] ", log.LstdFlags)))

	if err := c.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func envInt(name string) int {
	n, _ := strconv.Atoi(os.Getenv(name))
	return n
}

func serve(ctx context.Context, opts options) error {
	env := models.EnvDev
	if opts.env != "" {
		var err error
		if env, err = models.ParseEnvironment(opts.env); err != nil {
			return err
		}
	}

	proj, err := project.Find(opts.root)
	if err != nil {
		return err
	}
	port := opts.port
	if port == 0 {
		port = proj.Conf.Server.Port
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.startup > 0 {
		fmt.Printf("Building %s...\n", proj.Name())
		select {
		case <-time.After(opts.startup):
		case <-ctx.Done():
			return nil
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	srv := &http.Server{
		Handler:           newSiteHandler(proj, env),
		ReadHeaderTimeout: 5 * time.Second,
	}

	requests := control.NewRequestsFile(proj.ControlDir)
	// Requests queued for an earlier server are not ours to act on.
	if stale, err := requests.Drain(ctx); err != nil {
		slog.Warn("Failed to clear old requests", "component", "devserver", "error", err)
	} else if len(stale) > 0 {
		slog.Info("Discarded stale requests", "component", "devserver", "count", len(stale))
	}

	state := control.NewStateFile(proj.ControlDir)
	snap := models.ServerSnapshot{Env: env, Port: port, PID: os.Getpid(), Running: true}
	if err := state.Write(snap); err != nil {
		ln.Close()
		return err
	}
	defer clearState(state, snap)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	fmt.Printf("Serving %s (%s) at http://localhost:%d\n", proj.Name(), env.DisplayName(), port)

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal", "component", "devserver")
	case <-watchRequests(ctx, requests, opts.poll):
		fmt.Println("Stop requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// watchRequests drains the requests file every interval. The returned channel
// is closed when a stop request arrives.
func watchRequests(ctx context.Context, requests *control.RequestsFile, interval time.Duration) <-chan struct{} {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			reqs, err := requests.Drain(ctx)
			if err != nil {
				slog.Warn("Failed to read requests", "component", "devserver", "error", err)
				continue
			}
			for _, r := range reqs {
				slog.Info("Received request", "component", "devserver", "type", r.Type)
				if r.Type == models.RequestTypeStop {
					close(stop)
					return
				}
			}
		}
	}()

	return stop
}

// clearState removes the state file unless another server has replaced it.
func clearState(state *control.StateFile, ours models.ServerSnapshot) {
	current, ok, err := state.Read()
	if err == nil && ok && current != ours {
		slog.Info("State file belongs to another server, leaving it", "component", "devserver", "pid", current.PID)
		return
	}
	if err := state.Clear(); err != nil {
		slog.Warn("Failed to clear server state", "component", "devserver", "error", err)
	}
}
