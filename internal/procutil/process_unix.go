//go:build !windows

package procutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// SetProcessGroup makes cmd start in its own process group so the whole
// tree it spawns can be signalled at once.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillGroup sends SIGKILL to the process group led by p. A group that has
// already exited is not an error.
func KillGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

// TerminateGroup sends SIGTERM to the process group led by p so its members
// can exit on their own.
func TerminateGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil || p.Pid <= 0 {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		_ = p.Signal(sig)
		return nil
	}
	return err
}
