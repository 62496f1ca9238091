// Package hash persists the last notified change hash per prisoner. The
// conditional write in Upsert is the only cross-process mutual exclusion in
// the sync path: of any number of concurrent writers converging on the same
// hash, exactly one observes a change.
package hash

import (
	"context"
	"time"
)

// Outcome is the effect an Upsert had.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether a row was written.
func (o Outcome) Changed() bool { return o != Unchanged }

// Entry is one stored hash.
type Entry struct {
	PrisonerNumber string
	Hash           string
	UpdatedAt      time.Time
	EventID        string
}

// Writer mutates hashes inside a transaction.
type Writer interface {
	// Upsert stores e unless the stored hash already equals e.Hash.
	Upsert(ctx context.Context, e Entry) (Outcome, error)
	// Delete removes the row and reports whether one existed.
	Delete(ctx context.Context, prisonerNumber string) (bool, error)
}

// Store runs transactions over the hash table. When fn returns an error
// every write it made is rolled back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
	Get(ctx context.Context, prisonerNumber string) (*Entry, error)
}
