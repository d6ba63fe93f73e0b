//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package supervisor

import (
	"os"
	"os/exec"
)

func setProcAttrs(cmd *exec.Cmd) {}

func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
