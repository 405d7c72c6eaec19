package journal

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory journal for tests and single-node development.
// For multi-process deployments use Postgres, which makes the journal
// durable across restarts.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock Clock
}

// MemoryOption configures a Memory journal.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock function for testability.
func WithMemoryClock(clock Clock) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMemory constructs an in-memory journal.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		seen:  make(map[string]time.Time),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// RecordIfNew inserts the ID if absent. The map write happens under one
// mutex hold, so concurrent callers for the same ID observe exactly one
// Inserted.
func (m *Memory) RecordIfNew(ctx context.Context, activityID string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[activityID]; ok {
		return AlreadyExists, nil
	}
	m.seen[activityID] = m.clock()
	return Inserted, nil
}

// FirstSeen returns when the ID was first recorded.
func (m *Memory) FirstSeen(activityID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.seen[activityID]
	return t, ok
}
