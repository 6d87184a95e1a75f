// Package provider defines the unified interface and shared types for all LLM
// providers. Each adapter (openai.go, anthropic.go) normalizes its vendor's
// streaming responses into a unified Event sequence.
package provider

import "context"

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single text message in the conversation history.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is the unified request format sent to a provider.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
}

// ── Event types (streaming output) ───────────────────────────────────────────

type EventType int

const (
	// EventTextDelta: incremental text output from the LLM.
	EventTextDelta EventType = iota

	// EventDone: end of this message turn, includes token usage.
	EventDone

	// EventError: an error occurred.
	EventError
)

// Event is the unified streaming event emitted by a provider.
type Event struct {
	Type EventType

	// EventTextDelta
	TextDelta string

	// EventDone
	Usage *Usage

	// EventError
	Error error
}

// Usage records token consumption for an API call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ── Provider interface ───────────────────────────────────────────────────────

// Provider is the unified interface for all LLM providers. Implementors
// convert the unified ChatRequest into their API format and the vendor
// stream into a unified Event sequence, handling vendor error codes.
type Provider interface {
	// Chat initiates a streaming conversation.
	// The returned channel emits Events until EventDone or EventError, then
	// closes. The caller must fully consume the channel to avoid goroutine leaks.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name returns the provider identifier, e.g. "anthropic", "openai", "deepseek".
	Name() string

	// Models returns the list of supported models.
	Models() []string

	// DefaultModel returns the default model.
	DefaultModel() string

	// ContextWindow returns the default context window size for the current model.
	ContextWindow() int
}

// Collect drains a provider event stream into the full response text and
// final usage. The first stream error is returned as-is.
func Collect(events <-chan Event) (string, *Usage, error) {
	var text []byte
	var usage *Usage
	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text = append(text, ev.TextDelta...)
		case EventDone:
			usage = ev.Usage
		case EventError:
			return "", nil, ev.Error
		}
	}
	return string(text), usage, nil
}
