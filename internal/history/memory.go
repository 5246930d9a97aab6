package history

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nupi-ai/warp/internal/constants"
)

// Memory is a bounded in-process Recorder.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewMemory returns a Recorder keeping the last capacity entries. A
// non-positive capacity uses the default history limit.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = constants.DefaultHistoryLimit
	}
	return &Memory{entries: make([]Entry, capacity)}
}

func (m *Memory) Append(_ context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return entry, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.entries)) % len(m.entries)
		out = append(out, m.entries[idx])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
