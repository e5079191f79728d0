package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/misssmart/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.SessionStore  = (*SessionStoreImpl)(nil)
	_ memory.DocumentStore = (*Store)(nil)
)

// Store is the PostgreSQL-backed journal. It holds a single [pgxpool.Pool];
// [Store.L1] exposes the transcript log and Store itself implements
// [memory.DocumentStore].
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionStoreImpl
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		sessions: &SessionStoreImpl{pool: pool},
	}, nil
}

// L1 returns the transcript log which satisfies [memory.SessionStore].
func (s *Store) L1() *SessionStoreImpl { return s.sessions }

// Ping checks that the database is reachable. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetDocument implements [memory.DocumentStore].
func (s *Store) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	const q = `SELECT body FROM documents WHERE key = $1`

	var body []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("document store: get %q: %w", key, err)
	}
	return body, true, nil
}

// PutDocument implements [memory.DocumentStore]. body must be valid JSON.
func (s *Store) PutDocument(ctx context.Context, key string, body []byte) error {
	const q = `
		INSERT INTO documents (key, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE
		    SET body = EXCLUDED.body, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, key, string(body)); err != nil {
		return fmt.Errorf("document store: put %q: %w", key, err)
	}
	return nil
}
