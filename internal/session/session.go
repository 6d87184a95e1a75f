package session

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/bookline-ai/bookline/internal/provider"
)

// Session holds the live state for one conversation.
type Session struct {
	ID        string
	UserID    string
	Messages  []provider.Message
	Turn      int // number of completed user turns
	CreatedAt time.Time
	UpdatedAt time.Time

	TokensUsed       int // cumulative total tokens (never reset)
	PromptTokens     int // last API call's input tokens
	CompletionTokens int // last API call's output tokens
}

// New creates a new session with a unique ID.
func New(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:        newID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg provider.Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// NextTurn advances the turn counter and returns the new turn number.
// Turns are 1-based: the first user message is turn 1.
func (s *Session) NextTurn() int {
	s.Turn++
	return s.Turn
}

// Clear resets the message history and token counter. The session ID,
// user ID and turn counter are preserved.
func (s *Session) Clear() {
	s.Messages = nil
	s.TokensUsed = 0
}

// EstimateTokens returns a rough token estimate (total chars / 4).
func (s *Session) EstimateTokens() int {
	total := 0
	for _, msg := range s.Messages {
		total += len(msg.Text)
	}
	return total / 4
}
