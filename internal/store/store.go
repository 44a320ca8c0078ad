// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/auryn-chat/internal/domain"
)

// MessageStore persists messages. Messages are append-only; InsertMessage
// replaces an existing record with the same id.
type MessageStore interface {
	// InsertMessage stores a message, replacing any message with the same id.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// GetMessage returns the message with the given id, or nil if absent.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// DeleteMessage removes a single message. Deleting an absent id is not an error.
	DeleteMessage(ctx context.Context, messageID string) error

	// DeleteMessagesForConversation removes every message of a conversation.
	DeleteMessagesForConversation(ctx context.Context, conversationID string) error

	// CountMessages returns the number of stored messages of a conversation.
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// ListMessages returns the messages of a conversation by ascending
	// timestamp, ties broken by insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// ObserveMessages streams ListMessages snapshots, re-emitted after every
	// write to the conversation, until ctx is done.
	ObserveMessages(ctx context.Context, conversationID string) <-chan []*domain.Message
}

// ConversationStore persists conversation summaries.
type ConversationStore interface {
	// InsertConversation creates a conversation or replaces one with the same id.
	InsertConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation returns the conversation with the given id, or nil if absent.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// UpdateConversation overwrites an existing conversation.
	// Returns domain.ErrNotFound if it does not exist.
	UpdateConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation together with its messages.
	DeleteConversation(ctx context.Context, conversationID string) error

	// ListConversations returns all conversations, most recently updated first.
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)

	// ObserveConversations streams ListConversations snapshots until ctx is done.
	ObserveConversations(ctx context.Context) <-chan []*domain.Conversation
}

// Repository bundles both stores over one backing database.
type Repository interface {
	MessageStore
	ConversationStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)
