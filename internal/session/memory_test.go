package session

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bookline-ai/bookline/internal/provider"
)

func newTestStore(t *testing.T) *SQLiteMemoryStore {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteMemoryStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteMemoryStore: %v", err)
	}
	return store
}

func TestMemoryStoreAndSearch(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Store("prefers morning appointments", "user-1", map[string]string{"kind": "preference"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := store.Store("drives a 2019 Honda Civic", "user-1", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := store.Store("drives a Ford truck", "user-2", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := store.Search("honda civic", "user-1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Memory.Content != "drives a 2019 Honda Civic" {
		t.Errorf("wrong hit: %q", hits[0].Memory.Content)
	}
	if hits[0].Score != 1.0 {
		t.Errorf("expected score 1.0, got %v", hits[0].Score)
	}
}

func TestMemorySearchScopedByUser(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Store("drives a Honda", "user-1", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := store.Search("honda", "user-2", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for other user, got %d", len(hits))
	}
}

func TestMemorySearchOrdering(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Store("oil change due soon", "u", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := store.Store("last oil change and tire rotation in June", "u", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := store.Search("oil change tire", "u", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	// The memory covering all three query tokens ranks first.
	if hits[0].Memory.Content != "last oil change and tire rotation in June" {
		t.Errorf("wrong first hit: %q", hits[0].Memory.Content)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("hits not ordered by score: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestMemorySearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)

	for _, content := range []string{"a", "b", "c"} {
		if _, err := store.Store(content, "u", nil); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	hits, err := store.Search("", "u", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected limit to cap hits at 2, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Score != 0.5 {
			t.Errorf("expected neutral score 0.5, got %v", h.Score)
		}
	}
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	store := newTestStore(t)

	m, err := store.Store("drives a Honda", "u", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := store.Update(m.ID, "drives a Toyota"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	hits, err := store.Search("toyota", "u", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected updated memory to be found, got %d hits", len(hits))
	}

	if err := store.Delete(m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(m.ID); err == nil {
		t.Error("expected error deleting missing memory")
	}
	if err := store.Update(m.ID, "anything"); err == nil {
		t.Error("expected error updating missing memory")
	}
}

func TestMemoryStoreRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Store("  ", "u", nil); err == nil {
		t.Error("expected error storing blank content")
	}
}

func TestMemoryMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)

	meta := map[string]string{"kind": "vehicle", "source": "conversation"}
	if _, err := store.Store("drives a Subaru", "u", meta); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := store.Search("subaru", "u", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	got := hits[0].Memory.Metadata
	if got["kind"] != "vehicle" || got["source"] != "conversation" {
		t.Errorf("metadata did not round trip: %v", got)
	}
}

func TestNullMemoryStore(t *testing.T) {
	var store MemoryStore = NullMemoryStore{}

	if m, err := store.Store("x", "u", nil); err != nil || m != nil {
		t.Errorf("Store = (%v, %v), want (nil, nil)", m, err)
	}
	if hits, err := store.Search("x", "u", 5); err != nil || hits != nil {
		t.Errorf("Search = (%v, %v), want (nil, nil)", hits, err)
	}
}

func TestSessionTurns(t *testing.T) {
	s := New("user-1")
	if s.ID == "" || len(s.ID) != 32 {
		t.Fatalf("expected 32-char hex session ID, got %q", s.ID)
	}
	if got := s.NextTurn(); got != 1 {
		t.Errorf("first NextTurn = %d, want 1", got)
	}
	if got := s.NextTurn(); got != 2 {
		t.Errorf("second NextTurn = %d, want 2", got)
	}
}

func TestSessionClearAndEstimate(t *testing.T) {
	s := New("user-1")
	s.AddMessage(provider.Message{Role: provider.RoleUser, Text: strings.Repeat("a", 40)})
	s.AddMessage(provider.Message{Role: provider.RoleAssistant, Text: strings.Repeat("b", 40)})
	s.TokensUsed = 120
	s.NextTurn()

	if got := s.EstimateTokens(); got != 20 {
		t.Errorf("EstimateTokens = %d, want 20", got)
	}

	id := s.ID
	s.Clear()
	if len(s.Messages) != 0 || s.TokensUsed != 0 {
		t.Error("Clear must drop messages and the token counter")
	}
	if s.ID != id || s.Turn != 1 {
		t.Error("Clear must keep the session ID and turn counter")
	}
	if got := s.EstimateTokens(); got != 0 {
		t.Errorf("EstimateTokens after Clear = %d, want 0", got)
	}
}
