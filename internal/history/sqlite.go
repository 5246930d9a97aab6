package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nupi-ai/warp/internal/constants"
)

const schema = `CREATE TABLE IF NOT EXISTS command_history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	command     TEXT NOT NULL,
	working_dir TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	timed_out   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL,
	started_at  TEXT NOT NULL
)`

// Store is a Recorder backed by a sqlite database.
type Store struct {
	db         *sql.DB
	maxEntries int
}

// Open opens (creating if needed) the history database at path. At most
// maxEntries rows are kept; non-positive uses the default history limit.
func Open(ctx context.Context, path string, maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = constants.DefaultHistoryLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(constants.HistoryBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: chmod: %w", err)
	}
	return &Store{db: db, maxEntries: maxEntries}, nil
}

func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO command_history (id, command, working_dir, exit_code, error, timed_out, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Command, entry.WorkingDir, entry.ExitCode, entry.Error,
		entry.TimedOut, entry.Duration.Milliseconds(), entry.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return entry, fmt.Errorf("history: insert: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM command_history WHERE seq <= (SELECT MAX(seq) FROM command_history) - ?`,
		s.maxEntries,
	)
	if err != nil {
		return entry, fmt.Errorf("history: prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("history: commit: %w", err)
	}
	return entry, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.maxEntries
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, working_dir, exit_code, error, timed_out, duration_ms, started_at
		 FROM command_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry      Entry
			durationMS int64
			startedAt  string
		)
		if err := rows.Scan(&entry.ID, &entry.Command, &entry.WorkingDir, &entry.ExitCode,
			&entry.Error, &entry.TimedOut, &durationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entry.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
