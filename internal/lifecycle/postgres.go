package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/postgres"
)

const (
	getStatusSQL = `
SELECT current_index, in_progress, in_error, populating, start_index_time, end_index_time, version
FROM index_status WHERE id = 'STATUS'`

	startSQL = `
UPDATE index_status
SET in_progress = true, populating = $2, start_index_time = $1, end_index_time = NULL, version = version + 1
WHERE id = 'STATUS' AND in_progress = false AND in_error = false`

	populatingSQL = `
UPDATE index_status
SET populating = $1, version = version + 1
WHERE id = 'STATUS' AND in_progress = true`

	completeSQL = `
UPDATE index_status
SET current_index = CASE current_index WHEN 'A' THEN 'B' ELSE 'A' END,
    in_progress = false, end_index_time = $1, version = version + 1
WHERE id = 'STATUS' AND in_progress = true AND in_error = false AND populating = false`

	cancelSQL = `
UPDATE index_status
SET in_progress = false, in_error = false, populating = false, end_index_time = $1, version = version + 1
WHERE id = 'STATUS'`

	errorSQL = `
UPDATE index_status
SET in_progress = false, in_error = true, populating = false, end_index_time = $1, version = version + 1
WHERE id = 'STATUS' AND in_progress = true`
)

// PostgresStatusStore keeps the status row in index_status.
type PostgresStatusStore struct {
	client *postgres.Client
}

func NewPostgresStatusStore(client *postgres.Client) *PostgresStatusStore {
	return &PostgresStatusStore{client: client}
}

func (s *PostgresStatusStore) Get(ctx context.Context) (Status, error) {
	var (
		st         Status
		current    string
		start, end sql.NullTime
	)
	err := s.client.DB.QueryRowContext(ctx, getStatusSQL).
		Scan(&current, &st.InProgress, &st.InError, &st.Populating, &start, &end, &st.Version)
	if err != nil {
		return Status{}, fmt.Errorf("reading index status: %w", err)
	}
	st.Current = Generation(current)
	if start.Valid {
		st.StartIndexTime = &start.Time
	}
	if end.Valid {
		st.EndIndexTime = &end.Time
	}
	return st, nil
}

func (s *PostgresStatusStore) MarkStarted(ctx context.Context, at time.Time, populating bool) (bool, error) {
	return s.cas(ctx, "start", startSQL, at, populating)
}

func (s *PostgresStatusStore) MarkPopulating(ctx context.Context, populating bool) (bool, error) {
	return s.cas(ctx, "populating", populatingSQL, populating)
}

func (s *PostgresStatusStore) MarkCompleted(ctx context.Context, at time.Time) (bool, error) {
	return s.cas(ctx, "complete", completeSQL, at)
}

func (s *PostgresStatusStore) MarkCancelled(ctx context.Context, at time.Time) error {
	_, err := s.cas(ctx, "cancel", cancelSQL, at)
	return err
}

func (s *PostgresStatusStore) MarkError(ctx context.Context, at time.Time) (bool, error) {
	return s.cas(ctx, "error", errorSQL, at)
}

func (s *PostgresStatusStore) cas(ctx context.Context, op, stmt string, args ...any) (bool, error) {
	res, err := s.client.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("index status %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("index status %s: %w", op, err)
	}
	return n == 1, nil
}
