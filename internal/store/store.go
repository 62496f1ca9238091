// Package store defines the document store the search and indexing paths
// share. Implementations live in pkg/opensearch (production) and in this
// package (in-memory, for tests and local runs).
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrIndexNotFound is returned when an operation targets a missing index.
var ErrIndexNotFound = errors.New("index not found")

// Hit is a single scored document returned by a search.
type Hit struct {
	ID     string          `json:"id"`
	Score  float64         `json:"score"`
	Source json.RawMessage `json:"source"`
}

// Hits is one page of search results plus the total matching count.
type Hits struct {
	Total int64 `json:"total"`
	Hits  []Hit `json:"hits"`
}

// IDCursor iterates document ids in ascending order.
type IDCursor interface {
	Next(ctx context.Context) bool
	ID() string
	Err() error
	Close(ctx context.Context) error
}

// DocumentStore is the subset of the search engine the service relies on.
type DocumentStore interface {
	// Search runs a query body against an index.
	Search(ctx context.Context, index string, body map[string]any) (*Hits, error)
	// Get returns the raw document or nil when it does not exist.
	Get(ctx context.Context, index, id string) (json.RawMessage, error)
	// Index inserts or replaces a document.
	Index(ctx context.Context, index, id string, doc any) error
	// Delete removes a document. Missing documents are not an error.
	Delete(ctx context.Context, index, id string) error
	// Scroll walks every document id of an index in ascending order.
	Scroll(ctx context.Context, index string, pageSize int) (IDCursor, error)
	CreateIndex(ctx context.Context, index string) error
	DeleteIndex(ctx context.Context, index string) error
	Ping(ctx context.Context) error
}
