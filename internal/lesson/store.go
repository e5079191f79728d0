package lesson

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Key identifies one cached script.
type Key struct {
	Grade  Grade
	UnitID int
	Mode   Mode
}

// String implements fmt.Stringer.
func (k Key) String() string { return fmt.Sprintf("%s/%d/%s", k.Grade, k.UnitID, k.Mode) }

// Store persists generated scripts so a unit is only written once.
type Store interface {
	// Get returns the script for key. ok is false when nothing is stored.
	Get(ctx context.Context, key Key) (script *Script, ok bool, err error)

	// Put stores script under key, replacing any previous value.
	Put(ctx context.Context, key Key, script *Script) error
}

// MemoryStore is an in-process [Store]. The zero value is ready to use.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[Key]Script
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, key Key) (*Script, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[key]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

// Put implements [Store].
func (m *MemoryStore) Put(_ context.Context, key Key, script *Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scripts == nil {
		m.scripts = make(map[Key]Script)
	}
	m.scripts[key] = *script
	return nil
}

// Len returns the number of stored scripts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scripts)
}

// CachedGenerator serves scripts from a [Store] and falls back to the wrapped
// [Generator] on a miss. Store failures are logged and never fail a request.
type CachedGenerator struct {
	next  Generator
	store Store
}

// NewCachedGenerator wraps next with store.
func NewCachedGenerator(next Generator, store Store) *CachedGenerator {
	return &CachedGenerator{next: next, store: store}
}

// Generate implements [Generator].
func (c *CachedGenerator) Generate(ctx context.Context, grade Grade, unit Unit, mode Mode) (*Script, error) {
	key := Key{Grade: grade, UnitID: unit.ID, Mode: mode}

	script, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		slog.Warn("lesson cache read failed", "key", key, "err", err)
	case ok:
		return script, nil
	}

	script, err = c.next.Generate(ctx, grade, unit, mode)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, key, script); err != nil {
		slog.Warn("lesson cache write failed", "key", key, "err", err)
	}
	return script, nil
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Generator = (*CachedGenerator)(nil)
)

// DocumentStore is a byte-oriented key/value backend, such as the
// Postgres-backed store in pkg/memory/postgres.
type DocumentStore interface {
	GetDocument(ctx context.Context, key string) (body []byte, ok bool, err error)
	PutDocument(ctx context.Context, key string, body []byte) error
}

// DocStore adapts a [DocumentStore] to [Store], encoding scripts as JSON.
type DocStore struct {
	docs DocumentStore
}

// NewDocStore wraps docs.
func NewDocStore(docs DocumentStore) *DocStore { return &DocStore{docs: docs} }

// Get implements [Store].
func (d *DocStore) Get(ctx context.Context, key Key) (*Script, bool, error) {
	body, ok, err := d.docs.GetDocument(ctx, documentKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	script, err := ParseScript(string(body))
	if err != nil {
		return nil, false, fmt.Errorf("lesson: stored script %s: %w", key, err)
	}
	return script, true, nil
}

// Put implements [Store].
func (d *DocStore) Put(ctx context.Context, key Key, script *Script) error {
	body, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("lesson: encode script: %w", err)
	}
	return d.docs.PutDocument(ctx, documentKey(key), body)
}

func documentKey(k Key) string { return "script/" + k.String() }

var _ Store = (*DocStore)(nil)
