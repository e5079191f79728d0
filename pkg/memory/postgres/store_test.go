package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/misssmart/pkg/memory"
	"github.com/MrWong99/misssmart/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MISSSMART_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MISSSMART_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MISSSMART_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema and closes
// it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS session_entries CASCADE",
		"DROP TABLE IF EXISTS documents CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// ─────────────────────────────────────────────────────────────────────────────
// L1: transcript log
// ─────────────────────────────────────────────────────────────────────────────

func TestL1_WriteAndGetRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	l1 := store.L1()

	now := time.Now()
	entries := []memory.TranscriptEntry{
		{Role: memory.RoleTeacher, Text: "What day is it today?", Timestamp: now.Add(-3 * time.Minute)},
		{Role: memory.RoleChild, Text: "Today is Monday!", Timestamp: now.Add(-2 * time.Minute)},
		{Role: memory.RoleTeacher, Text: "Wonderful job!", Timestamp: now.Add(-1 * time.Minute)},
	}
	for _, e := range entries {
		if err := l1.WriteEntry(ctx, "session-1", e); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
	if err := l1.WriteEntry(ctx, "session-2", memory.TranscriptEntry{Role: memory.RoleChild, Text: "hello"}); err != nil {
		t.Fatalf("WriteEntry without timestamp: %v", err)
	}

	all, err := l1.GetRecent(ctx, "session-1", 0)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetRecent(0): got %d; want 3", len(all))
	}
	recent, err := l1.GetRecent(ctx, "session-1", 2)
	if err != nil {
		t.Fatalf("GetRecent(2): %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "Today is Monday!" || recent[1].Text != "Wonderful job!" {
		t.Errorf("GetRecent(2) = %v; want last two, oldest first", recent)
	}

	empty, err := l1.GetRecent(ctx, "nope", 5)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("GetRecent(nope) = %#v, %v; want empty non-nil", empty, err)
	}
}

func TestL1_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	l1 := store.L1()

	_ = l1.WriteEntry(ctx, "a", memory.TranscriptEntry{Role: memory.RoleChild, Text: "I can JUMP"})
	_ = l1.WriteEntry(ctx, "a", memory.TranscriptEntry{Role: memory.RoleTeacher, Text: "You can jump, 100% true"})
	_ = l1.WriteEntry(ctx, "b", memory.TranscriptEntry{Role: memory.RoleChild, Text: "red circle"})

	tests := []struct {
		query string
		opts  memory.SearchOpts
		want  int
	}{
		{"jump", memory.SearchOpts{}, 2},
		{"jump", memory.SearchOpts{Role: memory.RoleChild}, 1},
		{"jump", memory.SearchOpts{SessionID: "b"}, 0},
		{"100%", memory.SearchOpts{}, 1},
		{"red circle", memory.SearchOpts{}, 1},
		{"jump", memory.SearchOpts{Limit: 1}, 1},
	}
	for _, tt := range tests {
		got, err := l1.Search(ctx, tt.query, tt.opts)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("Search(%q, %+v) = %d entries; want %d", tt.query, tt.opts, len(got), tt.want)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Documents
// ─────────────────────────────────────────────────────────────────────────────

func TestDocuments_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetDocument(ctx, "script/KG1/1/immersion"); ok || err != nil {
		t.Fatalf("GetDocument on empty table = %v, %v", ok, err)
	}
	if err := store.PutDocument(ctx, "script/KG1/1/immersion", []byte(`{"warmUp":"Hi"}`)); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if err := store.PutDocument(ctx, "script/KG1/1/immersion", []byte(`{"warmUp":"Hello"}`)); err != nil {
		t.Fatalf("PutDocument (update): %v", err)
	}
	body, ok, err := store.GetDocument(ctx, "script/KG1/1/immersion")
	if err != nil || !ok {
		t.Fatalf("GetDocument = %v, %v", ok, err)
	}
	if string(body) != `{"warmUp": "Hello"}` && string(body) != `{"warmUp":"Hello"}` {
		t.Errorf("body = %s; want updated document", body)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
