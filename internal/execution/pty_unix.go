//go:build !windows

package execution

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	ptyDevice "github.com/creack/pty"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/procutil"
)

// runPTY runs the command on a pseudo-terminal. The terminal merges stdout
// and stderr, so everything is reported as Stdout.
func runPTY(ctx context.Context, shell, workDir string, req Request, res *Result) error {
	cmd := exec.Command(shell, "-c", req.Command)
	cmd.Dir = workDir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	// pty.Start places the child in a new session, so its pid is also the
	// process group id.
	ptmx, err := ptyDevice.StartWithSize(cmd, &ptyDevice.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return fmt.Errorf("execution: start pty: %w", err)
	}

	stopper := procutil.NewGroupStopper(cmd, constants.CommandKillGrace)

	var out lockedBuffer
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(&out, ptmx)
	}()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waited:
	case <-ctx.Done():
		_ = stopper.Stop()
		waitErr = <-waited
	}
	stopper.Finish()

	// The reader ends with EIO once the slave side is closed; descendants
	// that still hold it are cut off by closing the master.
	select {
	case <-copied:
	case <-time.After(constants.CommandKillGrace):
	}
	ptmx.Close()
	select {
	case <-copied:
	case <-time.After(constants.CommandKillGrace):
	}

	res.Stdout = strings.ReplaceAll(out.String(), "\r\n", "\n")
	return exitStatus(waitErr, res)
}
