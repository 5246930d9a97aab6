//go:build !windows

package execution_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nupi-ai/warp/internal/execution"
)

func run(t *testing.T, req execution.Request) (execution.Result, error) {
	t.Helper()
	if req.Shell == "" {
		req.Shell = "/bin/sh"
	}
	return execution.Run(context.Background(), req)
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	dir := t.TempDir()
	res, err := run(t, execution.Request{
		Command:    "echo out; echo err 1>&2; exit 3",
		WorkingDir: dir,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if res.WorkingDir != dir || res.Elapsed <= 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res, err := run(t, execution.Request{Command: "pwd -P", WorkingDir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != dir {
		t.Fatalf("expected %q, got %q", dir, res.Stdout)
	}
}

func TestRunRejectsMissingWorkingDirectory(t *testing.T) {
	_, err := run(t, execution.Request{Command: "true", WorkingDir: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatalf("expected error for missing working directory")
	}
}

func TestRunTimeoutKillsCommand(t *testing.T) {
	start := time.Now()
	res, err := run(t, execution.Request{Command: "sleep 10", Timeout: time.Second})
	if !errors.Is(err, execution.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("result should be marked as timed out")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestRunTimeoutLeavesNoOrphans(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	_, err := run(t, execution.Request{
		Command: "sleep 30 & echo $! > " + pidFile + "; wait",
		Timeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, execution.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for alive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunTimeoutKillsCommandIgnoringTerm(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	start := time.Now()
	_, err := run(t, execution.Request{
		Command: "trap '' TERM; sleep 30 & echo $! > " + pidFile + "; wait",
		Timeout: 300 * time.Millisecond,
	})
	if !errors.Is(err, execution.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("command ignoring SIGTERM was not killed, took %s", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for alive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the forced kill", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// alive reports whether pid is running and not a zombie awaiting reaping.
func alive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	stat := string(data)
	if i := strings.LastIndexByte(stat, ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] != 'Z'
	}
	return true
}

func TestRunParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := execution.Run(ctx, execution.Request{Command: "sleep 10", Shell: "/bin/sh", Timeout: 10 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunOnPTY(t *testing.T) {
	res, err := run(t, execution.Request{Command: "echo hi; echo oops 1>&2", UsePTY: true, Timeout: 5 * time.Second})
	if err != nil {
		if strings.Contains(err.Error(), "start pty") {
			t.Skipf("pty unavailable: %v", err)
		}
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hi\n") || !strings.Contains(res.Stdout, "oops") {
		t.Fatalf("expected merged output, got %q", res.Stdout)
	}
	if res.Stderr != "" {
		t.Fatalf("stderr should be empty in pty mode, got %q", res.Stderr)
	}
}

func TestRunOnPTYTimeout(t *testing.T) {
	_, err := run(t, execution.Request{Command: "sleep 10", UsePTY: true, Timeout: 500 * time.Millisecond})
	if err != nil && strings.Contains(err.Error(), "start pty") {
		t.Skipf("pty unavailable: %v", err)
	}
	if !errors.Is(err, execution.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
