package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bookline-ai/bookline/internal/provider"
)

const classifyPrompt = `Classify the customer's latest message into exactly one intent:
- "booking": wants to book, reschedule or discuss a service appointment
- "question": asks about prices, hours, or services
- "smalltalk": greeting or chit-chat
- "cancel": wants to abort the current request

Reply with JSON only: {"label": "...", "confidence": 0.0-1.0, "reasoning": "..."}`

const extractPrompt = `Extract any booking fields mentioned in the customer's latest message.
Sections and fields:
- customer: first_name, last_name, phone, email
- vehicle: brand, model, year, plate
- appointment: date (YYYY-MM-DD), time, service_type

Reply with JSON only: {"fields": [{"section": "...", "name": "...", "value": ..., "confidence": 0.0-1.0}]}
Use an empty list when the message carries no field. Never invent values.`

// LLM implements Understander on top of a provider. Classification tries
// the deterministic keyword rules first and only calls the model when
// they don't fire; with a nil provider every capability degrades to its
// empty result instead of failing.
type LLM struct {
	Provider provider.Provider
	Model    string // optional override; empty = provider default
}

func (l *LLM) ClassifyIntent(ctx context.Context, history []string, message string) (IntentResult, error) {
	if res, ok := ClassifyKeyword(message); ok {
		return res, nil
	}
	if l.Provider == nil {
		// No model available: treat unmatched text as a question.
		return IntentResult{Label: IntentQuestion, Confidence: 0.3}, nil
	}

	text, err := l.complete(ctx, classifyPrompt, history, message, 256)
	if err != nil {
		return IntentResult{}, fmt.Errorf("classify intent: %w", err)
	}

	var res IntentResult
	if err := json.Unmarshal(jsonBody(text), &res); err != nil || res.Label == "" {
		// Unparsable model output degrades to a low-confidence question.
		return IntentResult{Label: IntentQuestion, Confidence: 0.3}, nil
	}
	return res, nil
}

func (l *LLM) ExtractFields(ctx context.Context, history []string, message string) ([]ExtractedField, error) {
	if l.Provider == nil {
		return nil, nil
	}

	text, err := l.complete(ctx, extractPrompt, history, message, 512)
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}

	var out struct {
		Fields []ExtractedField `json:"fields"`
	}
	if err := json.Unmarshal(jsonBody(text), &out); err != nil {
		// "No extraction" is an ordinary input for the core, not an error.
		return nil, nil
	}
	return out.Fields, nil
}

func (l *LLM) Generate(ctx context.Context, in GenerateInput) (string, *provider.Usage, error) {
	if l.Provider == nil {
		return "", nil, nil
	}

	msgs := make([]provider.Message, 0, len(in.History)+2)
	if in.Context != "" {
		msgs = append(msgs, provider.Message{
			Role: provider.RoleUser,
			Text: "[Background context]\n" + in.Context,
		})
	}
	msgs = append(msgs, in.History...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: in.UserMessage})

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	events, err := l.Provider.Chat(ctx, &provider.ChatRequest{
		Model:        l.Model,
		Messages:     msgs,
		SystemPrompt: in.SystemPrompt,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("generate reply: %w", err)
	}
	text, usage, err := provider.Collect(events)
	if err != nil {
		return "", nil, fmt.Errorf("generate stream: %w", err)
	}
	return strings.TrimSpace(text), usage, nil
}

// complete runs a single system-prompt + message exchange and returns the
// model's full text.
func (l *LLM) complete(ctx context.Context, system string, history []string, message string, maxTokens int) (string, error) {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("[Recent conversation]\n")
		sb.WriteString(strings.Join(history, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString("[Latest message]\n")
	sb.WriteString(message)

	events, err := l.Provider.Chat(ctx, &provider.ChatRequest{
		Model:        l.Model,
		Messages:     []provider.Message{{Role: provider.RoleUser, Text: sb.String()}},
		SystemPrompt: system,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", err
	}
	text, _, err := provider.Collect(events)
	if err != nil {
		return "", err
	}
	return text, nil
}

// jsonBody strips markdown code fences and surrounding prose so model
// output like "```json\n{...}\n```" parses cleanly.
func jsonBody(text string) []byte {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	// Fall back to the first {...} span when prose surrounds the object.
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return []byte(strings.TrimSpace(s))
}
