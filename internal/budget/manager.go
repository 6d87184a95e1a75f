package budget

import (
	"fmt"
	"sync"
)

// safetyMultiplier pads the chars/4 heuristic so budget checks err on the
// side of under-filling rather than overflowing the model input.
const safetyMultiplier = 1.1

// EstimateTokens returns a deterministic token estimate for text:
// floor(max(1, len/4) * 1.1). Empty text estimates to 0.
// Every size decision in this package goes through this function so
// budget outcomes are reproducible.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	base := len(text) / 4
	if base < 1 {
		base = 1
	}
	return int(float64(base) * safetyMultiplier)
}

// EstimateValue estimates tokens for an arbitrary value by stringifying it
// first. Maps and slices therefore estimate consistently with their
// rendered form.
func EstimateValue(v any) int {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return EstimateTokens(s)
	}
	return EstimateTokens(fmt.Sprintf("%v", v))
}

// TokenManager tracks live usage against a TokenBudget. Reads and the
// check-then-act Add are serialized by an internal mutex, so a single
// manager may be shared across conversations.
type TokenManager struct {
	mu     sync.Mutex
	budget TokenBudget
	used   int
}

func NewTokenManager(b TokenBudget) *TokenManager {
	return &TokenManager{budget: b}
}

// Budget returns the fixed budget the manager enforces.
func (m *TokenManager) Budget() TokenBudget { return m.budget }

// ContextLimit returns the effective context limit.
func (m *TokenManager) ContextLimit() int { return m.budget.ContextLimit() }

// Usage returns the current tracked usage.
func (m *TokenManager) Usage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// WouldExceed reports whether adding the given token count would push
// usage past the context limit.
func (m *TokenManager) WouldExceed(additional int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used+additional > m.budget.ContextLimit()
}

// Add records token usage if it fits. Returns false (without mutating)
// when the addition would exceed the context limit.
func (m *TokenManager) Add(tokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+tokens > m.budget.ContextLimit() {
		return false
	}
	m.used += tokens
	return true
}

// ResetUsage clears tracked usage back to zero.
func (m *TokenManager) ResetUsage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = 0
}

// Remaining returns the unconsumed portion of the context limit,
// clamped at zero.
func (m *TokenManager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem := m.budget.ContextLimit() - m.used
	if rem < 0 {
		return 0
	}
	return rem
}

// UsagePercentage returns usage as a percentage of the context limit.
// A zero limit reports 100 when anything has been used, else 0.
func (m *TokenManager) UsagePercentage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := m.budget.ContextLimit()
	if limit == 0 {
		if m.used > 0 {
			return 100
		}
		return 0
	}
	return 100 * float64(m.used) / float64(limit)
}

// TruncateToBudget cuts text down so its estimate fits the context limit.
// The returned flag reports whether truncation occurred. Truncated output
// ends with a 3-char "..." marker and never exceeds the target length
// (0.9 * limit * 4 chars).
func (m *TokenManager) TruncateToBudget(text string) (string, bool) {
	limit := m.budget.ContextLimit()
	if EstimateTokens(text) <= limit {
		return text, false
	}
	target := int(0.9 * float64(limit) * 4)
	if target <= 3 {
		if target < 0 {
			target = 0
		}
		return text[:target], true
	}
	if target > len(text) {
		target = len(text)
	}
	return text[:target-3] + "...", true
}
