package hash

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Transactions are serialised by a single
// lock, so Get must not be called from inside InTx.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.entries, staged: make(map[string]*Entry)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		if v == nil {
			delete(m.entries, k)
		} else {
			m.entries[k] = *v
		}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, prisonerNumber string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[prisonerNumber]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

type memTx struct {
	base   map[string]Entry
	staged map[string]*Entry // nil marks a delete
}

func (t *memTx) lookup(number string) (Entry, bool) {
	if e, ok := t.staged[number]; ok {
		if e == nil {
			return Entry{}, false
		}
		return *e, true
	}
	e, ok := t.base[number]
	return e, ok
}

func (t *memTx) Upsert(_ context.Context, e Entry) (Outcome, error) {
	cur, ok := t.lookup(e.PrisonerNumber)
	if ok && cur.Hash == e.Hash {
		return Unchanged, nil
	}
	t.staged[e.PrisonerNumber] = &e
	if ok {
		return Updated, nil
	}
	return Created, nil
}

func (t *memTx) Delete(_ context.Context, prisonerNumber string) (bool, error) {
	_, ok := t.lookup(prisonerNumber)
	t.staged[prisonerNumber] = nil
	return ok, nil
}
