package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/misssmart/pkg/memory"
)

// SessionStoreImpl is the transcript log backed by the session_entries table.
//
// Obtain one via [Store.L1] rather than constructing directly.
// All methods are safe for concurrent use.
type SessionStoreImpl struct {
	pool *pgxpool.Pool
}

// WriteEntry implements [memory.SessionStore].
func (s *SessionStoreImpl) WriteEntry(ctx context.Context, sessionID string, entry memory.TranscriptEntry) error {
	const q = `
		INSERT INTO session_entries (session_id, role, text, timestamp)
		VALUES ($1, $2, $3, COALESCE($4, now()))`

	var ts any
	if !entry.Timestamp.IsZero() {
		ts = entry.Timestamp
	}
	if _, err := s.pool.Exec(ctx, q, sessionID, entry.Role, entry.Text, ts); err != nil {
		return fmt.Errorf("session store: write entry: %w", err)
	}
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *SessionStoreImpl) GetRecent(ctx context.Context, sessionID string, limit int) ([]memory.TranscriptEntry, error) {
	q := `
		SELECT role, text, timestamp FROM (
		    SELECT id, role, text, timestamp
		    FROM   session_entries
		    WHERE  session_id = $1
		    ORDER  BY timestamp DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += "\n\t\t    LIMIT $2"
		args = append(args, limit)
	}
	q += `
		) recent
		ORDER BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: get recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.SessionStore]. Every word of query must appear in
// the entry text, ignoring case.
func (s *SessionStoreImpl) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	for _, w := range strings.Fields(query) {
		conditions = append(conditions, "text ILIKE "+next("%"+escapeLike(w)+"%"))
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}

	q := "SELECT role, text, timestamp\n" +
		"FROM   session_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: search: %w", err)
	}
	return collectEntries(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// collectEntries scans pgx rows into a non-nil slice of entries.
func collectEntries(rows pgx.Rows) ([]memory.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var e memory.TranscriptEntry
		err := row.Scan(&e.Role, &e.Text, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}
