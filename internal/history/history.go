// Package history records executed commands.
package history

import (
	"context"
	"time"
)

// Entry is one executed command.
type Entry struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	WorkingDir string        `json:"working_dir"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"timestamp"`
}

// Recorder persists command history.
type Recorder interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
