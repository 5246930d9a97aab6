// Package execution runs shell commands for the session with a hard timeout
// that terminates the command's whole process tree.
package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/procutil"
)

// ErrTimeout is returned when a command exceeds its timeout.
var ErrTimeout = errors.New("execution: command timed out")

// Request describes a command to run through a shell.
type Request struct {
	Command    string
	Shell      string
	WorkingDir string
	Timeout    time.Duration
	Env        []string
	UsePTY     bool
}

// Result is the outcome of a command that started.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Elapsed    time.Duration
	WorkingDir string
	TimedOut   bool
}

// Run executes req.Command with req.Shell -c. A non-zero exit status is
// reported in Result.ExitCode with a nil error. When the timeout elapses the
// process group gets SIGTERM, then SIGKILL after constants.CommandKillGrace,
// and ErrTimeout is returned alongside the partial output.
func Run(ctx context.Context, req Request) (Result, error) {
	shell := req.Shell
	if shell == "" {
		shell = constants.DefaultShell
	}
	workDir := req.WorkingDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}
	res := Result{WorkingDir: workDir, ExitCode: -1}

	if strings.TrimSpace(req.Command) == "" {
		return res, errors.New("execution: empty command")
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return res, fmt.Errorf("execution: working directory %q is not accessible", workDir)
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	if req.UsePTY {
		err = runPTY(runCtx, shell, workDir, req, &res)
	} else {
		err = runPiped(runCtx, shell, workDir, req, &res)
	}
	res.Elapsed = time.Since(start)

	if ctxErr := runCtx.Err(); ctxErr != nil && ctx.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

func runPiped(ctx context.Context, shell, workDir string, req Request, res *Result) error {
	cmd := exec.CommandContext(ctx, shell, "-c", req.Command)
	cmd.Dir = workDir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	procutil.SetProcessGroup(cmd)
	stopper := procutil.NewGroupStopper(cmd, constants.CommandKillGrace)
	cmd.Cancel = stopper.Stop
	// Bounds Wait when descendants outlive the forced kill and hold the pipes.
	cmd.WaitDelay = 2 * constants.CommandKillGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	stopper.Finish()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return exitStatus(err, res)
}

func exitStatus(err error, res *Result) error {
	if err == nil {
		res.ExitCode = 0
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		res.ExitCode = 0
		return nil
	}
	return fmt.Errorf("execution: %w", err)
}

// lockedBuffer collects output written from a reader goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
