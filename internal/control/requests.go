package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kingoftac/runway/internal/models"
)

// RequestsFile is an append-only YAML sequence of requests for the running
// server. Each Enqueue appends exactly one "- type: ..." item under an
// advisory lock, so concurrent enqueuers never interleave.
type RequestsFile struct {
	path string
}

func NewRequestsFile(controlDir string) *RequestsFile {
	return &RequestsFile{path: filepath.Join(controlDir, serverDir, requestsFileName)}
}

func (f *RequestsFile) Path() string {
	return f.path
}

// Enqueue appends req and syncs it to disk before returning. The lock wait is
// bounded by ctx, which lets callers on their way out give up in time.
func (f *RequestsFile) Enqueue(ctx context.Context, req models.ServerRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	entry, err := yaml.Marshal([]models.ServerRequest{req})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open requests file: %w", err)
	}
	defer file.Close()

	unlock, err := lockFile(ctx, file, true)
	if err != nil {
		return fmt.Errorf("failed to lock requests file: %w", err)
	}
	defer unlock()

	// A writer that died mid-line leaves no trailing newline; start our item
	// on a fresh line so it stays parseable.
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat requests file: %w", err)
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, size-1); err == nil && last[0] != '\n' {
			entry = append([]byte{'\n'}, entry...)
		}
	}

	if _, err := file.Write(entry); err != nil {
		return fmt.Errorf("failed to append request: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync requests file: %w", err)
	}

	slog.Debug("Enqueued server request", "component", "control", "type", req.Type, "path", f.path)
	return nil
}

// Pending returns the queued requests without consuming them.
func (f *RequestsFile) Pending(ctx context.Context) ([]models.ServerRequest, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open requests file: %w", err)
	}
	defer file.Close()

	unlock, err := lockFile(ctx, file, false)
	if err != nil {
		return nil, fmt.Errorf("failed to lock requests file: %w", err)
	}
	defer unlock()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests file: %w", err)
	}
	return parseRequests(data), nil
}

// Drain returns all queued requests and empties the file. Only the server
// process that owns the control folder should call it.
func (f *RequestsFile) Drain(ctx context.Context) ([]models.ServerRequest, error) {
	file, err := os.OpenFile(f.path, os.O_RDWR, 0644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open requests file: %w", err)
	}
	defer file.Close()

	unlock, err := lockFile(ctx, file, true)
	if err != nil {
		return nil, fmt.Errorf("failed to lock requests file: %w", err)
	}
	defer unlock()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	if err := file.Truncate(0); err != nil {
		return nil, fmt.Errorf("failed to truncate requests file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync requests file: %w", err)
	}

	return parseRequests(data), nil
}

// parseRequests decodes the sequence one item at a time. Items that do not
// decode or validate are skipped rather than failing the whole file.
func parseRequests(data []byte) []models.ServerRequest {
	var requests []models.ServerRequest
	for _, item := range splitItems(data) {
		var decoded []models.ServerRequest
		if err := yaml.Unmarshal(item, &decoded); err != nil {
			slog.Warn("Skipping unreadable request entry", "component", "control", "error", err)
			continue
		}
		for _, req := range decoded {
			if err := req.Validate(); err != nil {
				slog.Warn("Skipping invalid request entry", "component", "control", "error", err)
				continue
			}
			requests = append(requests, req)
		}
	}
	return requests
}

// splitItems cuts a top level YAML sequence into its items. An item starts at
// a line beginning with "-" and runs until the next such line.
func splitItems(data []byte) [][]byte {
	var items [][]byte
	var current []byte

	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if line[0] == '-' && current != nil {
			items = append(items, current)
			current = nil
		}
		current = append(current, line...)
	}
	if current != nil {
		items = append(items, current)
	}
	return items
}
