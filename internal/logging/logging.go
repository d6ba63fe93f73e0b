// Package logging installs the process wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Setup routes slog output to w. Debug lowers the level from info.
func Setup(w io.Writer, debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	handler := log.NewWithOptions(w, log.Options{
		Prefix:          "runway",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.LogfmtFormatter,
	})
	slog.SetDefault(slog.New(handler))
}

// SetupFile logs to the file at path, creating it and its directory when
// needed. The terminal belongs to the UI during a run, so this is what run
// uses. The returned func closes the file.
func SetupFile(path string, debug bool) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	Setup(f, debug)
	return f.Close, nil
}
