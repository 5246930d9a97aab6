//go:build windows

package procutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// SetProcessGroup starts cmd in a new process group.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// KillGroup terminates the process. Process.Kill maps to TerminateProcess,
// which does not reach children.
func KillGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// TerminateGroup is KillGroup on Windows; Process.Signal only supports os.Kill.
func TerminateGroup(p *os.Process) error {
	return KillGroup(p)
}
