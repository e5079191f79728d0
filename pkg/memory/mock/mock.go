// Package mock provides test doubles for the memory interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use.
//
// Typical usage:
//
//	store := &mock.SessionStore{WriteEntryErr: errors.New("disk full")}
//	// inject store into the system under test …
//	if got := store.CallCount("WriteEntry"); got != 1 {
//	    t.Errorf("WriteEntry calls = %d; want 1", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/misssmart/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
type SessionStore struct {
	mu    sync.Mutex
	calls []Call

	// WriteEntryErr is returned by WriteEntry when non-nil.
	WriteEntryErr error

	// GetRecentResult is returned by GetRecent. Nil yields an empty slice.
	GetRecentResult []memory.TranscriptEntry

	// GetRecentErr is returned by GetRecent when non-nil.
	GetRecentErr error

	// SearchResult is returned by Search. Nil yields an empty slice.
	SearchResult []memory.TranscriptEntry

	// SearchErr is returned by Search when non-nil.
	SearchErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Entries returns every entry passed to WriteEntry, in call order.
func (m *SessionStore) Entries() []memory.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.TranscriptEntry
	for _, c := range m.calls {
		if c.Method == "WriteEntry" {
			out = append(out, c.Args[1].(memory.TranscriptEntry))
		}
	}
	return out
}

// WriteEntry implements [memory.SessionStore].
func (m *SessionStore) WriteEntry(_ context.Context, sessionID string, entry memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{sessionID, entry}})
	return m.WriteEntryErr
}

// GetRecent implements [memory.SessionStore].
func (m *SessionStore) GetRecent(_ context.Context, sessionID string, limit int) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRecent", Args: []any{sessionID, limit}})
	return append([]memory.TranscriptEntry{}, m.GetRecentResult...), m.GetRecentErr
}

// Search implements [memory.SessionStore].
func (m *SessionStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	return append([]memory.TranscriptEntry{}, m.SearchResult...), m.SearchErr
}

// Ensure SessionStore satisfies the interface at compile time.
var _ memory.SessionStore = (*SessionStore)(nil)
