package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle is used when a conversation is created without a title.
const DefaultConversationTitle = "New Chat"

// Conversation is a named thread of messages with denormalized summary fields.
// MessageCount grows by two per successful send.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// NewConversation creates an empty conversation stamped with at.
func NewConversation(title string, at time.Time) *Conversation {
	if title == "" {
		title = DefaultConversationTitle
	}
	at = Millis(at)
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Touch records a newly appended message pair.
// UpdatedAt never moves backwards, even if the clock does.
func (c *Conversation) Touch(at time.Time) {
	at = Millis(at)
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	c.MessageCount += 2
}
