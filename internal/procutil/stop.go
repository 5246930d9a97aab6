package procutil

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// GroupStopper ends a command's process group in two steps: TerminateGroup
// first, then KillGroup once grace has passed without the group exiting.
type GroupStopper struct {
	cmd   *exec.Cmd
	grace time.Duration

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
}

// NewGroupStopper prepares a stopper for cmd. cmd must have been configured
// with SetProcessGroup before it is started.
func NewGroupStopper(cmd *exec.Cmd, grace time.Duration) *GroupStopper {
	return &GroupStopper{cmd: cmd, grace: grace}
}

func (g *GroupStopper) process() *os.Process {
	if g.cmd == nil {
		return nil
	}
	return g.cmd.Process
}

// Stop asks the group to exit and arms the forced kill. Further calls are
// no-ops. It fits exec.Cmd.Cancel.
func (g *GroupStopper) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return nil
	}
	g.stopped = true
	p := g.process()
	err := TerminateGroup(p)
	g.timer = time.AfterFunc(g.grace, func() { _ = KillGroup(p) })
	return err
}

// Finish must be called after Wait returns. When Stop ran, members of the
// group that outlived the leader are killed immediately.
func (g *GroupStopper) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.stopped {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	_ = KillGroup(g.process())
}

// Stopped reports whether Stop was called.
func (g *GroupStopper) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
