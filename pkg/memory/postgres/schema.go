// Package postgres provides a PostgreSQL-backed implementation of the
// classroom journal: the live-session transcript log and the document store
// that caches generated lesson scripts.
//
// Both share a single [pgxpool.Pool]. [Migrate] creates the tables on
// startup and is idempotent.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.L1().WriteEntry(ctx, sessionID, entry)
//	_ = store.PutDocument(ctx, "script/KG1/1/immersion", body)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionEntries = `
CREATE TABLE IF NOT EXISTS session_entries (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    role       TEXT         NOT NULL DEFAULT '',
    text       TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_entries_session_timestamp
    ON session_entries (session_id, timestamp);
`

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT         PRIMARY KEY,
    body       JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates all tables and indexes used by the store. It is safe to
// call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessionEntries, ddlDocuments} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
