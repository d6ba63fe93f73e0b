//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package control

import (
	"context"
	"log/slog"
	"os"
)

// lockFile is a no-op where flock is unavailable. Appends are still single
// write calls, which keeps items intact in practice.
func lockFile(ctx context.Context, file *os.File, exclusive bool) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Debug("flock not available on this platform", "component", "control", "path", file.Name())
	return func() {}, nil
}
