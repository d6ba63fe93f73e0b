//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package control

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const lockRetryInterval = 10 * time.Millisecond

// lockFile takes an advisory flock on file. It polls with LOCK_NB instead of
// blocking so that ctx can bound the wait. The returned func releases the
// lock; closing the file releases it too.
func lockFile(ctx context.Context, file *os.File, exclusive bool) (func(), error) {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	fd := int(file.Fd())

	for {
		err := unix.Flock(fd, how|unix.LOCK_NB)
		if err == nil {
			return func() {
				if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
					slog.Debug("flock unlock failed", "component", "control", "error", err)
				}
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
