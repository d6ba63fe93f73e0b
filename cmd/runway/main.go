package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/apparentlymart/go-userdirs/userdirs"

	"github.com/kingoftac/flagon/cli"
	"github.com/kingoftac/runway/internal/logging"
	"github.com/kingoftac/runway/internal/version"
)

var (
	dbName = "runway.db"
	dirs   = userdirs.ForApp("runway", "com.github.kingoftac.runway", "com.github.kingoftac.runway")
	dbPath = filepath.Join(dirs.DataHome(), dbName)
)

func main() {
	// run switches this to the project log file once it knows where that is.
	if os.Getenv("RUNWAY_DEBUG") != "" {
		logging.Setup(os.Stderr, true)
	} else {
		logging.Setup(io.Discard, false)
	}

	var (
		env     string
		debug   bool
		title   string
		limit   int
		runID   string
		showVer bool
	)

	c := cli.New(&cli.Command{
		Name:        "runway",
		Description: "Run and supervise a site's development server",
		Flags: func(fs *flag.FlagSet) {
			fs.BoolVar(&showVer, "version", false, "Print version information and exit")
		},
		Handler: func(ctx context.Context) error {
			if showVer {
				fmt.Println(version.String())
				return nil
			}
			version.PrintBanner(os.Stdout)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:        "run",
				Description: "Start the server and supervise it until it stops",
				Flags: func(fs *flag.FlagSet) {
					fs.StringVar(&env, "env", "dev", "Server environment: dev or prod")
					fs.BoolVar(&debug, "debug", false, "Write debug records to the project log")
				},
				Handler: func(ctx context.Context) error {
					return runHandler(ctx, env, debug)
				},
			},
			{
				Name:        "stop",
				Description: "Ask the running server to stop",
				Handler:     stopHandler,
			},
			{
				Name:        "status",
				Description: "Show the server this project is running, if any",
				Handler:     statusHandler,
			},
			{
				Name:        "history",
				Description: "List recent runs",
				Flags: func(fs *flag.FlagSet) {
					fs.IntVar(&limit, "n", 10, "Number of runs to show")
					fs.StringVar(&runID, "id", "", "Show one run in detail (an id prefix is enough)")
				},
				Handler: func(ctx context.Context) error {
					if runID != "" {
						return showRunHandler(ctx, runID)
					}
					return historyHandler(ctx, limit)
				},
			},
			{
				Name:        "init",
				Description: "Create a .runway folder in the current directory",
				Flags: func(fs *flag.FlagSet) {
					fs.StringVar(&title, "title", "", "Site title (defaults to the directory name)")
				},
				Handler: func(ctx context.Context) error {
					return initHandler(ctx, title)
				},
			},
			{
				Name:        "version",
				Description: "Print version information",
				Handler: func(ctx context.Context) error {
					fmt.Println(version.String())
					return nil
				},
			},
		},
	}, cli.WithLogger(log.New(os.Stderr, "[runway] ", log.LstdFlags)))

	if err := c.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
