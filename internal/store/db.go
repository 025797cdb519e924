package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS envelopes (
		guid             UUID PRIMARY KEY,
		source           TEXT NOT NULL DEFAULT '',
		source_device    INTEGER NOT NULL DEFAULT 0,
		sent_ts          BIGINT NOT NULL,
		server_ts        BIGINT NOT NULL,
		received_at      BIGINT NOT NULL,
		content          BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_journal (
		id          UUID NOT NULL,
		kind        TEXT NOT NULL,
		event       TEXT NOT NULL,
		enqueued_at BIGINT NOT NULL,
		finished_at BIGINT,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, event)
	)`,
}

// Migrate creates the store tables if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
