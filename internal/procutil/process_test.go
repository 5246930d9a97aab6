package procutil

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// isZombie reports whether pid has exited but not been reaped. Containers
// without an init process leave reparented children in this state.
func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	stat := string(data)
	if i := strings.LastIndexByte(stat, ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] == 'Z'
	}
	return false
}

// running reports whether pid exists and has not exited.
func running(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil && !isZombie(pid)
}

// startGroup runs script in its own process group and returns the pid of
// the background child the script reports on its first output line.
func startGroup(t *testing.T, script string) (*exec.Cmd, int) {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	SetProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start subprocess: %v", err)
	}

	var childPID int
	buf := make([]byte, 32)
	n, _ := stdout.Read(buf)
	for _, c := range buf[:n] {
		if c >= '0' && c <= '9' {
			childPID = childPID*10 + int(c-'0')
		}
	}
	if childPID == 0 {
		_ = KillGroup(cmd.Process)
		_ = cmd.Wait()
		t.Fatalf("could not read child pid from %q", buf[:n])
	}
	return cmd, childPID
}

func waitGone(t *testing.T, pid int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for running(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("process %d survived", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestKillGroupStopsChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are not signalled on windows")
	}

	// The shell starts a background sleep and reports its pid.
	cmd, childPID := startGroup(t, "sleep 300 & echo $!; wait")

	if err := KillGroup(cmd.Process); err != nil {
		t.Fatalf("KillGroup returned error: %v", err)
	}
	_ = cmd.Wait()
	waitGone(t, childPID, 2*time.Second)
}

func TestGroupStopperTerminatesBeforeGrace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are not signalled on windows")
	}

	cmd, childPID := startGroup(t, "sleep 300 & echo $!; wait")
	stopper := NewGroupStopper(cmd, 10*time.Second)

	start := time.Now()
	if err := stopper.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = cmd.Wait()
	stopper.Finish()

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("group did not exit on SIGTERM, took %s", elapsed)
	}
	waitGone(t, childPID, 2*time.Second)
	if !stopper.Stopped() {
		t.Fatalf("stopper should report Stop")
	}
}

func TestGroupStopperKillsAfterGrace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are not signalled on windows")
	}

	// Ignored signals are inherited, so neither the shell nor the sleep
	// reacts to SIGTERM.
	cmd, childPID := startGroup(t, "trap '' TERM; sleep 300 & echo $!; wait")
	stopper := NewGroupStopper(cmd, 300*time.Millisecond)

	start := time.Now()
	_ = stopper.Stop()
	_ = stopper.Stop()
	_ = cmd.Wait()
	stopper.Finish()

	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("group exited before the grace period: %s", elapsed)
	}
	waitGone(t, childPID, 2*time.Second)
}

func TestGroupStopperFinishWithoutStop(t *testing.T) {
	cmd := exec.Command("true")
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", "exit")
	}
	SetProcessGroup(cmd)
	stopper := NewGroupStopper(cmd, time.Second)
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	stopper.Finish()
	if stopper.Stopped() {
		t.Fatalf("stopper reports Stop that never happened")
	}
}

func TestKillGroupAfterExit(t *testing.T) {
	cmd := exec.Command("true")
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", "exit")
	}
	SetProcessGroup(cmd)
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := KillGroup(cmd.Process); err != nil {
		t.Fatalf("KillGroup on exited process: %v", err)
	}
	if err := KillGroup(nil); err != nil {
		t.Fatalf("KillGroup(nil): %v", err)
	}
}
