package hash

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/postgres"
)

// upsertSQL inserts or replaces the row only when the hash differs. RETURNING
// yields no row when the WHERE clause suppressed the update; xmax is zero
// only for a freshly inserted tuple.
const upsertSQL = `
INSERT INTO prisoner_hash (prisoner_number, prisoner_hash, updated_date_time, event_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (prisoner_number) DO UPDATE
SET prisoner_hash = EXCLUDED.prisoner_hash,
    updated_date_time = EXCLUDED.updated_date_time,
    event_id = EXCLUDED.event_id
WHERE prisoner_hash.prisoner_hash <> EXCLUDED.prisoner_hash
RETURNING (xmax = 0) AS inserted`

const deleteSQL = `DELETE FROM prisoner_hash WHERE prisoner_number = $1`

const getSQL = `
SELECT prisoner_number, prisoner_hash, updated_date_time, event_id
FROM prisoner_hash WHERE prisoner_number = $1`

// PostgresStore keeps hashes in the prisoner_hash table.
type PostgresStore struct {
	client *postgres.Client
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, txWriter{tx: tx})
	})
}

func (s *PostgresStore) Get(ctx context.Context, prisonerNumber string) (*Entry, error) {
	var e Entry
	err := s.client.DB.QueryRowContext(ctx, getSQL, prisonerNumber).
		Scan(&e.PrisonerNumber, &e.Hash, &e.UpdatedAt, &e.EventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hash for %s: %w", prisonerNumber, err)
	}
	return &e, nil
}

type txWriter struct {
	tx *sql.Tx
}

func (w txWriter) Upsert(ctx context.Context, e Entry) (Outcome, error) {
	var inserted bool
	err := w.tx.QueryRowContext(ctx, upsertSQL, e.PrisonerNumber, e.Hash, e.UpdatedAt, e.EventID).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return Unchanged, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("upserting hash for %s: %w", e.PrisonerNumber, err)
	}
	if inserted {
		return Created, nil
	}
	return Updated, nil
}

func (w txWriter) Delete(ctx context.Context, prisonerNumber string) (bool, error) {
	res, err := w.tx.ExecContext(ctx, deleteSQL, prisonerNumber)
	if err != nil {
		return false, fmt.Errorf("deleting hash for %s: %w", prisonerNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting hash for %s: %w", prisonerNumber, err)
	}
	return n > 0, nil
}
