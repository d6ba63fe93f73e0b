//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttrs puts the child in its own process group so that the whole
// tree a build tool forks can be signalled at once.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if err := unix.Kill(-p.Pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return p.Signal(sig)
		}
		return err
	}
	return nil
}

// Alive reports whether a process with the given pid exists. A process we
// may not signal still exists, so EPERM counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
