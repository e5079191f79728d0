package tutor

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/misssmart/pkg/memory"
)

// Journal wraps a [memory.SessionStore] so that a failing transcript backend
// never interrupts a lesson. Write failures are logged and swallowed, read
// failures return an empty result, and Degraded reports whether the most
// recent store call failed.
//
// Journal implements [memory.SessionStore]. All methods are safe for
// concurrent use.
type Journal struct {
	store    memory.SessionStore
	degraded atomic.Bool
}

var _ memory.SessionStore = (*Journal)(nil)

// NewJournal wraps store. A nil store keeps entries in process memory.
func NewJournal(store memory.SessionStore) *Journal {
	if store == nil {
		store = &memory.LocalStore{}
	}
	return &Journal{store: store}
}

// WriteEntry implements [memory.SessionStore]. It never returns an error.
func (j *Journal) WriteEntry(ctx context.Context, sessionID string, entry memory.TranscriptEntry) error {
	if err := j.store.WriteEntry(ctx, sessionID, entry); err != nil {
		j.degraded.Store(true)
		slog.Warn("journal: write failed, entry dropped",
			"session_id", sessionID,
			"role", entry.Role,
			"err", err,
		)
		return nil
	}
	j.degraded.Store(false)
	return nil
}

// GetRecent implements [memory.SessionStore]. On failure it returns an
// empty slice and no error.
func (j *Journal) GetRecent(ctx context.Context, sessionID string, limit int) ([]memory.TranscriptEntry, error) {
	entries, err := j.store.GetRecent(ctx, sessionID, limit)
	if err != nil {
		j.degraded.Store(true)
		slog.Warn("journal: read failed, returning empty", "session_id", sessionID, "err", err)
		return []memory.TranscriptEntry{}, nil
	}
	j.degraded.Store(false)
	return entries, nil
}

// Search implements [memory.SessionStore]. On failure it returns an empty
// slice and no error.
func (j *Journal) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	entries, err := j.store.Search(ctx, query, opts)
	if err != nil {
		j.degraded.Store(true)
		slog.Warn("journal: search failed, returning empty", "query", query, "err", err)
		return []memory.TranscriptEntry{}, nil
	}
	j.degraded.Store(false)
	return entries, nil
}

// Degraded reports whether the most recent store call failed.
func (j *Journal) Degraded() bool { return j.degraded.Load() }
