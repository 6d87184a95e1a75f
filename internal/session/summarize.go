package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookline-ai/bookline/internal/provider"
)

// Summarizer condenses older conversation turns into a short summary
// that fits a context snapshot.
type Summarizer interface {
	// Summarize generates a summary. previousSummary may be empty (first pass).
	// Iterative: old summary + recent messages → new combined summary.
	Summarize(ctx context.Context, previousSummary string, messages []provider.Message) (string, error)
}

// LLMSummarizer calls an LLM to generate summaries.
type LLMSummarizer struct {
	Provider provider.Provider
	Model    string // optional: use a cheaper model. Empty = provider default.
}

const summarizePrompt = `Summarize the booking conversation so far for continuity. Include:
- What the customer wants to book and for which vehicle
- Every detail the customer has provided (name, phone, vehicle, date, service)
- Any corrections the customer made
- What is still missing before the booking can be confirmed
Be concise. Max 300 tokens.`

func (s *LLMSummarizer) Summarize(ctx context.Context, previousSummary string, messages []provider.Message) (string, error) {
	var prompt strings.Builder
	if previousSummary != "" {
		fmt.Fprintf(&prompt, "Previous conversation summary:\n%s\n\nNow summarize the above together with the recent conversation:\n\n", previousSummary)
	}
	prompt.WriteString(summarizePrompt)

	// The conversation plus the summarize instruction as a final user message.
	msgs := make([]provider.Message, 0, len(messages)+1)
	msgs = append(msgs, messages...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: prompt.String()})

	model := s.Model
	if model == "" {
		model = s.Provider.DefaultModel()
	}

	req := &provider.ChatRequest{
		Model:        model,
		Messages:     msgs,
		SystemPrompt: "You are a conversation summarizer. Produce a concise, structured summary of the booking conversation.",
		MaxTokens:    1024,
	}

	events, err := s.Provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize LLM call failed: %w", err)
	}

	text, _, err := provider.Collect(events)
	if err != nil {
		return "", fmt.Errorf("summarize stream error: %w", err)
	}

	summary := strings.TrimSpace(text)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty summary")
	}
	return summary, nil
}
