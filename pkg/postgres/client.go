// Package postgres wraps database/sql over lib/pq for the small relational
// side-tables: the index status row and the per-prisoner change hash.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
)

// Schema creates the side-tables and seeds the singleton status row.
const Schema = `
CREATE TABLE IF NOT EXISTS index_status (
	id                  VARCHAR(40) PRIMARY KEY,
	current_index       VARCHAR(1)  NOT NULL,
	in_progress         BOOLEAN     NOT NULL DEFAULT FALSE,
	in_error            BOOLEAN     NOT NULL DEFAULT FALSE,
	populating          BOOLEAN     NOT NULL DEFAULT FALSE,
	start_index_time    TIMESTAMPTZ NULL,
	end_index_time      TIMESTAMPTZ NULL,
	version             BIGINT      NOT NULL DEFAULT 0
);
ALTER TABLE index_status ADD COLUMN IF NOT EXISTS populating BOOLEAN NOT NULL DEFAULT FALSE;
INSERT INTO index_status (id, current_index) VALUES ('STATUS', 'A') ON CONFLICT (id) DO NOTHING;
CREATE TABLE IF NOT EXISTS prisoner_hash (
	prisoner_number     VARCHAR(7)  PRIMARY KEY,
	prisoner_hash       VARCHAR(64) NOT NULL,
	updated_date_time   TIMESTAMPTZ NOT NULL,
	event_id            VARCHAR(64) NOT NULL
);`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// NewFromDB wraps an already opened handle, e.g. a sqlmock connection.
func NewFromDB(db *sql.DB) *Client {
	return &Client{DB: db}
}

// Migrate applies Schema. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn inside a transaction. Any error returned by fn rolls the
// transaction back and is returned unchanged.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
