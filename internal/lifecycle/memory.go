package lifecycle

import (
	"context"
	"sync"
	"time"
)

// MemoryStatusStore is an in-process StatusStore with the same
// compare-and-set semantics as the Postgres one.
type MemoryStatusStore struct {
	mu sync.Mutex
	st Status
}

func NewMemoryStatusStore(initial Status) *MemoryStatusStore {
	if initial.Current == "" {
		initial.Current = GenerationA
	}
	return &MemoryStatusStore{st: initial}
}

func (m *MemoryStatusStore) Get(context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *MemoryStatusStore) MarkStarted(_ context.Context, at time.Time, populating bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.InProgress || m.st.InError {
		return false, nil
	}
	m.st.InProgress = true
	m.st.Populating = populating
	m.st.StartIndexTime = &at
	m.st.EndIndexTime = nil
	m.st.Version++
	return true, nil
}

func (m *MemoryStatusStore) MarkPopulating(_ context.Context, populating bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.InProgress {
		return false, nil
	}
	m.st.Populating = populating
	m.st.Version++
	return true, nil
}

func (m *MemoryStatusStore) MarkCompleted(_ context.Context, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.InProgress || m.st.InError || m.st.Populating {
		return false, nil
	}
	m.st.Current = m.st.Current.Other()
	m.st.InProgress = false
	m.st.EndIndexTime = &at
	m.st.Version++
	return true, nil
}

func (m *MemoryStatusStore) MarkCancelled(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.InProgress = false
	m.st.InError = false
	m.st.Populating = false
	m.st.EndIndexTime = &at
	m.st.Version++
	return nil
}

func (m *MemoryStatusStore) MarkError(_ context.Context, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.InProgress {
		return false, nil
	}
	m.st.InProgress = false
	m.st.InError = true
	m.st.Populating = false
	m.st.EndIndexTime = &at
	m.st.Version++
	return true, nil
}
