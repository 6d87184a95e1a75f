package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory is a single piece of cross-conversation knowledge about a user.
type Memory struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchHit is a memory matched by a search query, with a relevance score
// in (0, 1]. Results are ordered by descending score.
type SearchHit struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// MemoryStore abstracts long-term memory persistence, scoped per user.
type MemoryStore interface {
	Store(content, userID string, metadata map[string]string) (*Memory, error)
	Search(query, userID string, limit int) ([]SearchHit, error)
	Update(id, content string) error
	Delete(id string) error
	Close() error
}

// NullMemoryStore is a no-op implementation used when memory is disabled.
type NullMemoryStore struct{}

func (NullMemoryStore) Store(string, string, map[string]string) (*Memory, error) { return nil, nil }
func (NullMemoryStore) Search(string, string, int) ([]SearchHit, error)          { return nil, nil }
func (NullMemoryStore) Update(string, string) error                              { return nil }
func (NullMemoryStore) Delete(string) error                                      { return nil }
func (NullMemoryStore) Close() error                                             { return nil }

const createMemoryTableSQL = `
CREATE TABLE IF NOT EXISTS memories (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   TEXT DEFAULT '{}',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
`

// SQLiteMemoryStore implements MemoryStore backed by SQLite.
type SQLiteMemoryStore struct {
	db *sql.DB
}

// NewSQLiteMemoryStore creates a memory store using an existing SQLite DB
// connection. The memories table is created if it doesn't exist.
func NewSQLiteMemoryStore(db *sql.DB) (*SQLiteMemoryStore, error) {
	if _, err := db.Exec(createMemoryTableSQL); err != nil {
		return nil, fmt.Errorf("create memories table: %w", err)
	}
	return &SQLiteMemoryStore{db: db}, nil
}

func (s *SQLiteMemoryStore) Store(content, userID string, metadata map[string]string) (*Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty memory content")
	}

	m := &Memory{
		ID:        uuid.New().String()[:8],
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	metaJSON, _ := json.Marshal(m.Metadata)

	_, err := s.db.Exec(`
		INSERT INTO memories (id, user_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, string(metaJSON),
		m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

// Search returns the user's memories matching the query, scored by keyword
// overlap and ordered best-first. An empty query returns the most recent
// memories with a neutral score.
func (s *SQLiteMemoryStore) Search(query, userID string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	queryTokens := tokenize(query)

	var (
		rows *sql.Rows
		err  error
	)
	if len(queryTokens) == 0 {
		rows, err = s.db.Query(`
			SELECT id, user_id, content, metadata, created_at
			FROM memories
			WHERE user_id = ?
			ORDER BY created_at DESC
			LIMIT ?`,
			userID, limit,
		)
	} else {
		// Keyword search with LIKE — no embeddings needed. Over-fetch so the
		// overlap scoring below picks the best matches, not just the newest.
		clauses := make([]string, 0, len(queryTokens))
		args := []any{userID}
		for _, tok := range queryTokens {
			clauses = append(clauses, "content LIKE ?")
			args = append(args, "%"+tok+"%")
		}
		args = append(args, limit*4)
		rows, err = s.db.Query(`
			SELECT id, user_id, content, metadata, created_at
			FROM memories
			WHERE user_id = ? AND (`+strings.Join(clauses, " OR ")+`)
			ORDER BY created_at DESC
			LIMIT ?`,
			args...,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(memories))
	for _, m := range memories {
		hits = append(hits, SearchHit{Memory: m, Score: overlapScore(queryTokens, m.Content)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteMemoryStore) Update(id, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty memory content")
	}
	result, err := s.db.Exec("UPDATE memories SET content = ? WHERE id = ?", content, id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory %s not found", id)
	}
	return nil
}

func (s *SQLiteMemoryStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM memories WHERE id = ? OR id LIKE ?", id, id+"%")
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory %s not found", id)
	}
	return nil
}

func (s *SQLiteMemoryStore) Close() error {
	// Don't close the DB — it's shared with the rest of the process.
	return nil
}

// overlapScore computes the fraction of query tokens present in content.
// With no query tokens (browse mode) every memory scores a neutral 0.5.
func overlapScore(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0.5
	}
	contentTokens := make(map[string]bool)
	for _, tok := range tokenize(content) {
		contentTokens[tok] = true
	}
	matched := 0
	for _, tok := range queryTokens {
		if contentTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// scanMemories reads memory rows from a query result.
func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		var m Memory
		var metaJSON, createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
