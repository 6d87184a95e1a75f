package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSnapshots caps how many snapshots the store retains after
// size-based eviction has run.
const DefaultMaxSnapshots = 30

// trimThreshold is the fraction of the budget above which size-based
// eviction kicks in.
const trimThreshold = 0.8

// Snapshot is one time-ordered piece of recent context. Duplicate content
// is allowed; the store is a sequence, not a set.
type Snapshot struct {
	ID           string
	Timestamp    time.Time
	Content      string
	SizeEstimate int
	Category     string
	Metadata     map[string]string
}

// RecentContextStore holds chronological context snapshots and keeps their
// total size inside a token budget. Oldest entries are evicted first,
// then a hard item-count cap applies. Single-writer: the owning
// conversation serializes access.
type RecentContextStore struct {
	snapshots []Snapshot
	budget    int
	maxItems  int
}

// NewRecentContextStore creates a store enforcing the given token budget.
// A non-positive maxItems falls back to DefaultMaxSnapshots.
func NewRecentContextStore(budgetTokens, maxItems int) *RecentContextStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxSnapshots
	}
	return &RecentContextStore{budget: budgetTokens, maxItems: maxItems}
}

// AddInstant appends a timestamped snapshot and trims the store. It returns
// the new snapshot's ID and whether any trimming occurred.
func (s *RecentContextStore) AddInstant(content, category string, metadata map[string]string) (string, bool) {
	snap := Snapshot{
		ID:           uuid.New().String()[:8],
		Timestamp:    time.Now(),
		Content:      content,
		SizeEstimate: EstimateTokens(content),
		Category:     category,
		Metadata:     metadata,
	}
	s.snapshots = append(s.snapshots, snap)
	return snap.ID, s.trim()
}

// Len returns the number of stored snapshots.
func (s *RecentContextStore) Len() int { return len(s.snapshots) }

// TotalSize returns the summed size estimate of all snapshots.
func (s *RecentContextStore) TotalSize() int {
	total := 0
	for _, snap := range s.snapshots {
		total += snap.SizeEstimate
	}
	return total
}

// Snapshots returns the stored snapshots in chronological order.
func (s *RecentContextStore) Snapshots() []Snapshot { return s.snapshots }

// trim enforces the budget in two phases, in order:
//  1. while total size exceeds 80% of the budget and more than one item
//     remains, evict the oldest;
//  2. if the count still exceeds the cap, keep only the most recent
//     maxItems entries.
func (s *RecentContextStore) trim() bool {
	trimmed := false
	threshold := int(trimThreshold * float64(s.budget))
	for s.TotalSize() > threshold && len(s.snapshots) > 1 {
		s.snapshots = s.snapshots[1:]
		trimmed = true
	}
	if len(s.snapshots) > s.maxItems {
		s.snapshots = s.snapshots[len(s.snapshots)-s.maxItems:]
		trimmed = true
	}
	return trimmed
}

// RenderRecent formats the most recent limit snapshots, oldest of the
// selected window first. Each snapshot renders as a category+timestamp
// heading followed by its content, blank-line separated. An empty store
// renders to "".
func (s *RecentContextStore) RenderRecent(limit int) string {
	if len(s.snapshots) == 0 {
		return ""
	}
	window := s.snapshots
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}

	var sb strings.Builder
	for i, snap := range window {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### [%s] %s\n%s",
			snap.Category, snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Content)
	}
	return sb.String()
}
