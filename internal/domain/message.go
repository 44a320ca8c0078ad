// Package domain contains core domain types for the Auryn chat service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single utterance belonging to exactly one conversation.
// Messages are never mutated once stored.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsFromUser     bool      `json:"is_from_user"`
	Timestamp      time.Time `json:"timestamp"`
	VoiceEnabled   bool      `json:"voice_enabled"`
}

// NewMessage builds a message with a fresh id. The timestamp is kept at
// millisecond precision, which is what the stores persist.
func NewMessage(conversationID, content string, fromUser, voiceEnabled bool, at time.Time) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		IsFromUser:     fromUser,
		Timestamp:      Millis(at),
		VoiceEnabled:   voiceEnabled,
	}
}

// Role returns "user" or "assistant".
func (m *Message) Role() string {
	if m.IsFromUser {
		return "user"
	}
	return "assistant"
}

// Millis truncates t to millisecond precision and drops the monotonic reading.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
