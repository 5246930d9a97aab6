package history_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nupi-ai/warp/internal/history"
)

func entries(n int) []history.Entry {
	out := make([]history.Entry, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = history.Entry{
			Command:    "echo " + string(rune('a'+i)),
			WorkingDir: "/tmp",
			ExitCode:   i,
			Duration:   time.Duration(i) * time.Millisecond,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func exercise(t *testing.T, rec history.Recorder) {
	t.Helper()
	ctx := context.Background()

	for _, e := range entries(5) {
		stored, err := rec.Append(ctx, e)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if stored.ID == "" {
			t.Fatalf("Append should assign an id")
		}
	}

	recent, err := rec.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Command != "echo e" || recent[1].Command != "echo d" {
		t.Fatalf("unexpected recent entries %+v", recent)
	}

	all, err := rec.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	// Capacity is 3 in both recorders under test.
	if len(all) != 3 || all[2].Command != "echo c" {
		t.Fatalf("expected the oldest entries to be pruned, got %+v", all)
	}
	if all[0].ExitCode != 4 || all[0].Duration != 4*time.Millisecond {
		t.Fatalf("fields not preserved: %+v", all[0])
	}
}

func TestMemoryRecorder(t *testing.T) {
	rec := history.NewMemory(3)
	defer rec.Close()
	exercise(t, rec)
}

func TestSQLiteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	rec, err := history.Open(context.Background(), path, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exercise(t, rec)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	reopened, err := history.Open(context.Background(), path, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	recent, err := reopened.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Command != "echo e" || !recent[0].StartedAt.Equal(time.Date(2024, 1, 1, 0, 0, 4, 0, time.UTC)) {
		t.Fatalf("unexpected entry after reopen %+v", recent)
	}
}

func TestMemoryRecentOnEmpty(t *testing.T) {
	rec := history.NewMemory(0)
	got, err := rec.Recent(context.Background(), 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty history, got %v %v", got, err)
	}
}
