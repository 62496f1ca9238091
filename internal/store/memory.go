package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// SearchFunc answers a search against the in-memory store.
type SearchFunc func(index string, body map[string]any) (*Hits, error)

// Memory is an in-process DocumentStore. Search is delegated to OnSearch so
// callers can script responses; every body is recorded in Queries.
type Memory struct {
	mu       sync.RWMutex
	indexes  map[string]map[string]json.RawMessage
	queries  []map[string]any
	OnSearch SearchFunc
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{indexes: make(map[string]map[string]json.RawMessage)}
}

func (m *Memory) Search(_ context.Context, index string, body map[string]any) (*Hits, error) {
	m.mu.Lock()
	m.queries = append(m.queries, body)
	fn := m.OnSearch
	m.mu.Unlock()
	if fn == nil {
		return &Hits{}, nil
	}
	return fn(index, body)
}

// Queries returns the search bodies received so far.
func (m *Memory) Queries() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]map[string]any(nil), m.queries...)
}

func (m *Memory) Get(_ context.Context, index, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, ErrIndexNotFound)
	}
	doc, ok := docs[id]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (m *Memory) Index(_ context.Context, index, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.indexes[index]
	if !ok {
		return fmt.Errorf("index %s/%s: %w", index, id, ErrIndexNotFound)
	}
	docs[id] = data
	return nil
}

func (m *Memory) Delete(_ context.Context, index, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if docs, ok := m.indexes[index]; ok {
		delete(docs, id)
	}
	return nil
}

func (m *Memory) Scroll(_ context.Context, index string, _ int) (IDCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("scroll %s: %w", index, ErrIndexNotFound)
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return NewSliceCursor(ids), nil
}

func (m *Memory) CreateIndex(_ context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[index] = make(map[string]json.RawMessage)
	return nil
}

func (m *Memory) DeleteIndex(_ context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, index)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Count returns the number of documents in an index.
func (m *Memory) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes[index])
}

// SliceCursor is an IDCursor over a pre-sorted slice.
type SliceCursor struct {
	ids []string
	pos int
}

// NewSliceCursor wraps ids, which must already be sorted.
func NewSliceCursor(ids []string) *SliceCursor {
	return &SliceCursor{ids: ids, pos: -1}
}

func (c *SliceCursor) Next(context.Context) bool {
	if c.pos+1 >= len(c.ids) {
		c.pos = len(c.ids)
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) ID() string {
	if c.pos < 0 || c.pos >= len(c.ids) {
		return ""
	}
	return c.ids[c.pos]
}

func (c *SliceCursor) Err() error                  { return nil }
func (c *SliceCursor) Close(context.Context) error { return nil }
