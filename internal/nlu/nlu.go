// Package nlu is the text-understanding boundary of the assistant: intent
// classification, structured field extraction, and response generation.
// The booking core consumes these as capabilities and treats "no result"
// as an ordinary input, so every implementation may degrade gracefully.
package nlu

import (
	"context"

	"github.com/bookline-ai/bookline/internal/provider"
)

// Intent labels a user message's high-level purpose.
type Intent string

const (
	IntentBooking   Intent = "booking"
	IntentQuestion  Intent = "question"
	IntentSmalltalk Intent = "smalltalk"
	IntentCancel    Intent = "cancel"
)

// IntentResult is a classified intent with its confidence and the
// classifier's reasoning (empty for deterministic rules).
type IntentResult struct {
	Label      Intent  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ExtractedField is one structured value pulled out of a message. Value is
// a plain scalar (string, float64, or bool); the caller converts it at the
// scratchpad boundary.
type ExtractedField struct {
	Section    string  `json:"section"`
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Classifier infers the intent of a user message given recent history.
type Classifier interface {
	ClassifyIntent(ctx context.Context, history []string, message string) (IntentResult, error)
}

// Extractor pulls structured booking fields out of a user message.
// A nil slice with nil error means "no extraction" and is not a failure.
type Extractor interface {
	ExtractFields(ctx context.Context, history []string, message string) ([]ExtractedField, error)
}

// GenerateInput carries everything the generator may use for a reply.
// Context is the budget-packed background content; History the recent
// dialogue as unified messages.
type GenerateInput struct {
	SystemPrompt string
	Context      string
	History      []provider.Message
	UserMessage  string
	MaxTokens    int
}

// Generator produces the assistant's reply text.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, *provider.Usage, error)
}

// Understander bundles the three capabilities a conversation needs.
type Understander interface {
	Classifier
	Extractor
	Generator
}
