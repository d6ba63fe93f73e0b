//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnqueueGivesUpWhenLockHeld(t *testing.T) {
	f := NewRequestsFile(t.TempDir())
	if err := os.MkdirAll(filepath.Dir(f.Path()), 0755); err != nil {
		t.Fatal(err)
	}

	holder, err := os.OpenFile(f.Path(), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()

	unlock, err := lockFile(context.Background(), holder, true)
	if err != nil {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = f.Enqueue(ctx, stop)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("enqueue blocked for %s despite deadline", elapsed)
	}
}
