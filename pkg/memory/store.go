// Package memory defines the classroom journal: a time-ordered transcript
// log of live conversations and a small document store for generated
// content.
//
// The interfaces are public so that alternative backends can be supplied.
// [LocalStore] keeps everything in process; pkg/memory/postgres persists to
// PostgreSQL.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// SearchOpts narrows a transcript search. All non-zero fields are applied
// as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	After time.Time

	// Role restricts results to one speaker role.
	Role string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// SessionStore is the transcript log.
type SessionStore interface {
	// WriteEntry appends entry under sessionID. sessionID must be non-empty.
	WriteEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error

	// GetRecent returns the last limit entries of a session, oldest first.
	// Zero limit returns the whole session. The slice is never nil.
	GetRecent(ctx context.Context, sessionID string, limit int) ([]TranscriptEntry, error)

	// Search returns entries whose text contains every word of query,
	// ignoring case, oldest first. The slice is never nil.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}

// DocumentStore is a byte-oriented key/value store.
type DocumentStore interface {
	// GetDocument returns the body stored under key. ok is false on a miss.
	GetDocument(ctx context.Context, key string) (body []byte, ok bool, err error)

	// PutDocument stores body under key, replacing any previous value.
	PutDocument(ctx context.Context, key string, body []byte) error
}

// ─────────────────────────────────────────────────────────────────────────────
// In-process implementation
// ─────────────────────────────────────────────────────────────────────────────

// LocalStore implements [SessionStore] and [DocumentStore] in memory. The
// zero value is ready to use.
type LocalStore struct {
	mu       sync.RWMutex
	sessions map[string][]TranscriptEntry
	docs     map[string][]byte
}

// WriteEntry implements [SessionStore].
func (s *LocalStore) WriteEntry(_ context.Context, sessionID string, entry TranscriptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string][]TranscriptEntry)
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], entry)
	return nil
}

// GetRecent implements [SessionStore].
func (s *LocalStore) GetRecent(_ context.Context, sessionID string, limit int) ([]TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]TranscriptEntry{}, entries...), nil
}

// Search implements [SessionStore].
func (s *LocalStore) Search(_ context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error) {
	words := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []TranscriptEntry{}
	for id, entries := range s.sessions {
		if opts.SessionID != "" && id != opts.SessionID {
			continue
		}
		for _, e := range entries {
			if matches(e, words, opts) {
				out = append(out, e)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b TranscriptEntry) int { return a.Timestamp.Compare(b.Timestamp) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matches(e TranscriptEntry, words []string, opts SearchOpts) bool {
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	text := strings.ToLower(e.Text)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

// GetDocument implements [DocumentStore].
func (s *LocalStore) GetDocument(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(b), true, nil
}

// PutDocument implements [DocumentStore].
func (s *LocalStore) PutDocument(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string][]byte)
	}
	s.docs[key] = slices.Clone(body)
	return nil
}

var (
	_ SessionStore  = (*LocalStore)(nil)
	_ DocumentStore = (*LocalStore)(nil)
)
