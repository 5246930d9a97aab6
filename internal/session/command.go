package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/execution"
	"github.com/nupi-ai/warp/internal/history"
	"github.com/nupi-ai/warp/internal/sanitize"
)

// CommandResult is the outcome of ExecuteCommand. Err is set when the
// command could not run to completion; a non-zero exit code alone is not an
// error.
type CommandResult struct {
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Elapsed    time.Duration `json:"execution_time"`
	WorkingDir string        `json:"working_dir"`
	Err        error         `json:"-"`
}

// ExecuteCommand runs command through the configured shell. Every attempt
// that reaches the OS is recorded in the history (when command logging is
// enabled) and published as a command_executed event.
func (s *Session) ExecuteCommand(ctx context.Context, command, workingDir string) CommandResult {
	result := CommandResult{Command: command, ExitCode: -1}
	if !s.cfg.GetBool("features.terminal.enabled", true) {
		result.Err = featureDisabled("terminal")
		return result
	}

	if workingDir == "" {
		workingDir = s.cfg.GetString("features.terminal.working_directory", "")
	}
	timeout := s.cfg.GetDuration("features.terminal.timeout", constants.CommandTimeout)
	startedAt := time.Now()

	res, err := execution.Run(ctx, execution.Request{
		Command:    command,
		Shell:      s.cfg.GetString("features.terminal.shell", constants.DefaultShell),
		WorkingDir: workingDir,
		Timeout:    timeout,
		UsePTY:     s.cfg.GetBool("features.terminal.use_pty", false),
	})
	result.ExitCode = res.ExitCode
	result.Stdout = res.Stdout
	result.Stderr = res.Stderr
	result.Elapsed = res.Elapsed
	result.WorkingDir = res.WorkingDir

	switch {
	case errors.Is(err, execution.ErrTimeout):
		result.Err = fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	case err != nil:
		result.Err = fmt.Errorf("session: execute command: %w", err)
	}

	s.recordCommand(ctx, result, startedAt, res.TimedOut)
	return result
}

func (s *Session) recordCommand(ctx context.Context, result CommandResult, startedAt time.Time, timedOut bool) {
	var errText string
	if result.Err != nil {
		errText = result.Err.Error()
		s.logger.Warn("command failed", zap.String("command", sanitize.LogText(result.Command)),
			zap.String("working_dir", result.WorkingDir), zap.Error(result.Err))
	} else {
		s.logger.Info("command executed", zap.String("command", sanitize.LogText(result.Command)),
			zap.String("working_dir", result.WorkingDir),
			zap.Int("exit_code", result.ExitCode), zap.Duration("elapsed", result.Elapsed))
	}

	if s.cfg.GetBool("features.terminal.command_logging", true) {
		// Recording must survive a cancelled caller context.
		_, err := s.history.Append(context.WithoutCancel(ctx), history.Entry{
			Command:    result.Command,
			WorkingDir: result.WorkingDir,
			ExitCode:   result.ExitCode,
			Error:      errText,
			TimedOut:   timedOut,
			Duration:   result.Elapsed,
			StartedAt:  startedAt,
		})
		if err != nil {
			s.logger.Warn("failed to record command history", zap.Error(err))
		}
	}

	s.bus.Emit(eventbus.SourceSession, eventbus.CommandExecutedEvent{
		Command:    result.Command,
		WorkingDir: result.WorkingDir,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Duration:   result.Elapsed,
		TimedOut:   timedOut,
		Error:      errText,
	})
}

// RecentCommands returns up to limit history entries, newest first.
func (s *Session) RecentCommands(ctx context.Context, limit int) ([]history.Entry, error) {
	return s.history.Recent(ctx, limit)
}
