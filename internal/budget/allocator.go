package budget

import "sort"

// Candidate is one piece of content competing for budget space.
// Lower Priority numbers mean higher priority.
type Candidate struct {
	Content  string
	Priority int
}

// PriorityAllocator selects the maximal-priority subset of candidates
// that fits a token budget.
type PriorityAllocator struct{}

// Select stable-sorts candidates ascending by priority, then greedily
// accepts them while the running size stays within budget. Selection stops
// at the first candidate that would overflow: lower-priority items after
// the first rejection are never considered, even if individually small.
// Predictability over bin-packing optimality.
func (PriorityAllocator) Select(candidates []Candidate, budgetTokens int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	var selected []Candidate
	used := 0
	for _, c := range sorted {
		size := EstimateTokens(c.Content)
		if used+size > budgetTokens {
			break
		}
		selected = append(selected, c)
		used += size
	}
	return selected
}
