// Package budget bounds the content sent to the LLM. A fixed token budget is
// split into named reserves; the manager tracks live usage against it, the
// recent store keeps a trimmed window of context snapshots, and the allocator
// picks the highest-priority content that fits.
package budget

// TokenBudget is a fixed allocation of a total context-size limit into
// named reserves. All fields are non-negative token counts.
type TokenBudget struct {
	Total             int
	SystemReserve     int
	GenerationReserve int
	ContextBudget     int
	ReservedBuffer    int
}

// DefaultBudget returns the stock allocation for a 4k-context model.
func DefaultBudget() TokenBudget {
	return TokenBudget{
		Total:             4096,
		SystemReserve:     820,
		GenerationReserve: 1230,
		ContextBudget:     2048,
		ReservedBuffer:    0,
	}
}

// AvailableForContext returns what is left of the total after all reserves,
// clamped at zero.
func (b TokenBudget) AvailableForContext() int {
	avail := b.Total - b.SystemReserve - b.GenerationReserve - b.ReservedBuffer
	if avail < 0 {
		return 0
	}
	return avail
}

// ContextLimit returns the effective token limit for active context:
// the smaller of the configured context budget and the residual capacity.
func (b TokenBudget) ContextLimit() int {
	avail := b.AvailableForContext()
	if b.ContextBudget < avail {
		return b.ContextBudget
	}
	return avail
}
