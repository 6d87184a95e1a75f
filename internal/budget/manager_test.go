package budget

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short_floors_to_one", text: "hi", want: 1},
		{name: "forty_chars", text: strings.Repeat("x", 40), want: 11}, // 10 * 1.1
		{name: "eight_chars", text: strings.Repeat("x", 8), want: 2},   // floor(2 * 1.1)
		{name: "four_hundred_chars", text: strings.Repeat("x", 400), want: 110},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateTokens(tc.text); got != tc.want {
				t.Fatalf("EstimateTokens(%d chars) = %d, want %d", len(tc.text), got, tc.want)
			}
		})
	}
}

func TestEstimateValueStringifies(t *testing.T) {
	if EstimateValue(nil) != 0 {
		t.Fatal("nil should estimate to 0")
	}
	if EstimateValue("abcd") != EstimateTokens("abcd") {
		t.Fatal("string values must estimate identically to EstimateTokens")
	}
	m := map[string]int{"a": 1}
	if EstimateValue(m) != EstimateTokens("map[a:1]") {
		t.Fatal("map values must estimate via their stringified form")
	}
}

func TestTokenManagerAddAndRemaining(t *testing.T) {
	m := NewTokenManager(TokenBudget{Total: 1000, ContextBudget: 100})

	if m.WouldExceed(100) {
		t.Fatal("100 tokens should fit an empty manager with limit 100")
	}
	if !m.Add(60) {
		t.Fatal("Add(60) should succeed")
	}
	if m.Usage() != 60 {
		t.Fatalf("usage = %d, want 60", m.Usage())
	}
	if !m.WouldExceed(41) {
		t.Fatal("60+41 must exceed limit 100")
	}
	if m.Add(41) {
		t.Fatal("Add(41) should fail without mutating")
	}
	if m.Usage() != 60 {
		t.Fatalf("failed Add must not mutate usage, got %d", m.Usage())
	}
	if m.Remaining() != 40 {
		t.Fatalf("remaining = %d, want 40", m.Remaining())
	}

	m.ResetUsage()
	if m.Usage() != 0 || m.Remaining() != 100 {
		t.Fatalf("after reset usage=%d remaining=%d", m.Usage(), m.Remaining())
	}
}

func TestUsagePercentage(t *testing.T) {
	m := NewTokenManager(TokenBudget{Total: 1000, ContextBudget: 200})
	if got := m.UsagePercentage(); got != 0 {
		t.Fatalf("empty manager percentage = %f, want 0", got)
	}
	m.Add(100)
	if got := m.UsagePercentage(); got != 50 {
		t.Fatalf("percentage = %f, want 50", got)
	}

	// Zero limit: 0 when unused, 100 once anything is tracked.
	zero := NewTokenManager(TokenBudget{})
	if got := zero.UsagePercentage(); got != 0 {
		t.Fatalf("zero-limit unused percentage = %f, want 0", got)
	}
	zero.used = 5
	if got := zero.UsagePercentage(); got != 100 {
		t.Fatalf("zero-limit used percentage = %f, want 100", got)
	}
}

func TestTruncateToBudget(t *testing.T) {
	m := NewTokenManager(TokenBudget{Total: 1000, ContextBudget: 10})

	short := "fits fine"
	if got, truncated := m.TruncateToBudget(short); got != short || truncated {
		t.Fatalf("short text must pass through unchanged, got %q truncated=%v", got, truncated)
	}

	long := strings.Repeat("a", 500)
	got, truncated := m.TruncateToBudget(long)
	if !truncated {
		t.Fatal("expected truncation flag for oversized text")
	}
	target := int(0.9 * 10 * 4) // 36 chars
	if len(got) > target {
		t.Fatalf("truncated length %d exceeds target %d", len(got), target)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated text must end with ellipsis marker, got %q", got)
	}
}
