package dialog

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// TurnCost records token usage and cost for a single LLM call.
type TurnCost struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	Model        string
	Timestamp    time.Time
}

// CostTracker accumulates token usage and dollar cost across a conversation.
type CostTracker struct {
	mu        sync.Mutex
	totalCost float64
	turns     []TurnCost
	pricing   map[string]ModelPricing
}

// NewCostTracker creates a CostTracker with default pricing and optional overrides.
func NewCostTracker(overrides map[string]ModelPricing) *CostTracker {
	pricing := DefaultPricing()
	for k, v := range overrides {
		pricing[k] = v
	}
	return &CostTracker{pricing: pricing}
}

// DefaultPricing returns built-in pricing for well-known models.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		// Anthropic
		"claude-sonnet-4-20250514":  {3.0, 15.0},
		"claude-haiku-4-5-20251001": {0.80, 4.0},
		// OpenAI
		"gpt-4o":       {2.50, 10.0},
		"gpt-4o-mini":  {0.15, 0.60},
		"gpt-4.1":      {2.0, 8.0},
		"gpt-4.1-mini": {0.40, 1.60},
		// DeepSeek
		"deepseek-chat": {0.27, 1.10},
		// Google
		"gemini-2.5-pro":   {1.25, 10.0},
		"gemini-2.5-flash": {0.15, 0.60},
	}
}

// RecordTurn records token usage for a single LLM call and returns its cost.
func (ct *CostTracker) RecordTurn(model string, inputTokens, outputTokens int) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cost := ct.calculateCost(model, inputTokens, outputTokens)
	ct.totalCost += cost
	ct.turns = append(ct.turns, TurnCost{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Model:        model,
		Timestamp:    time.Now(),
	})
	return cost
}

// TotalCost returns the conversation's total cost in dollars.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.totalCost
}

// Summary returns a formatted string with per-turn cost details.
func (ct *CostTracker) Summary() string {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if len(ct.turns) == 0 {
		return "No usage recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Conversation cost: $%.4f (%d calls)\n\n", ct.totalCost, len(ct.turns)))

	totalIn, totalOut := 0, 0
	for i, t := range ct.turns {
		totalIn += t.InputTokens
		totalOut += t.OutputTokens
		sb.WriteString(fmt.Sprintf("  Call %d: %s  in=%d out=%d  $%.4f\n",
			i+1, t.Model, t.InputTokens, t.OutputTokens, t.Cost))
	}
	sb.WriteString(fmt.Sprintf("\nTotal tokens: %d input + %d output = %d",
		totalIn, totalOut, totalIn+totalOut))

	return sb.String()
}

// calculateCost computes the dollar cost for a call. Must be called with lock held.
func (ct *CostTracker) calculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := ct.pricing[model]
	if !ok {
		// Prefix matching for versioned model names (e.g. "gpt-4o-2024-08-06")
		for name, pricing := range ct.pricing {
			if strings.HasPrefix(model, name) {
				p = pricing
				ok = true
				break
			}
		}
	}
	if !ok {
		return 0 // unknown model, no pricing
	}
	return (float64(inputTokens) * p.InputPerMillion / 1_000_000) +
		(float64(outputTokens) * p.OutputPerMillion / 1_000_000)
}
