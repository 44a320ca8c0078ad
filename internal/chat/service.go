// Package chat implements the send-message flow and the conversation read model.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/ashureev/auryn-chat/internal/responder"
	"github.com/ashureev/auryn-chat/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Responder produces the assistant reply for a user utterance.
type Responder interface {
	Respond(ctx context.Context, input string) (string, error)
}

// Recorder receives every message the service persists.
// Record must not block.
type Recorder interface {
	Record(msg *domain.Message)
}

// Service orchestrates message sends over a message store and a
// conversation store. Sends to the same conversation are serialized.
type Service struct {
	messages      store.MessageStore
	conversations store.ConversationStore
	responder     Responder
	recorder      Recorder
	now           func() time.Time
	validate      *validator.Validate
	locks         *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithResponder replaces the keyword responder.
func WithResponder(r Responder) Option {
	return func(s *Service) { s.responder = r }
}

// WithRecorder attaches a transcript recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a chat service.
func NewService(messages store.MessageStore, conversations store.ConversationStore, opts ...Option) *Service {
	s := &Service{
		messages:      messages,
		conversations: conversations,
		responder:     responder.Keyword{},
		now:           time.Now,
		validate:      newValidator(),
		locks:         newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validationError(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrValidation, err)
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

// SendMessage stores the user's message, generates and stores the reply, and
// refreshes the conversation summary. It returns the reply.
//
// A failure storing the user message leaves nothing behind. A failure storing
// the reply leaves the user message in place. Summary failures are logged and
// do not fail the send, so MessageCount may drift from the true count.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string, voiceEnabled bool) (*domain.Message, error) {
	errb := oops.In("chat").With("conversation_id", conversationID)

	if err := s.validate.Struct(sendRequest{ConversationID: conversationID, Content: content}); err != nil {
		return nil, errb.Public("message content must not be blank").Wrapf(validationError(err), "send message")
	}

	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return nil, errb.Wrapf(err, "wait for conversation")
	}
	defer unlock()

	userMsg := domain.NewMessage(conversationID, content, true, voiceEnabled, s.now())
	if err := s.messages.InsertMessage(ctx, userMsg); err != nil {
		return nil, errb.With("message_id", userMsg.ID).Wrapf(storageError(err), "store user message")
	}
	s.record(userMsg)

	// The user message is committed; finish the pair even if the caller leaves.
	ctx = context.WithoutCancel(ctx)

	replyText, err := s.responder.Respond(ctx, content)
	if err != nil {
		return nil, errb.Wrapf(err, "generate reply")
	}

	replyAt := s.now()
	if replyAt.Before(userMsg.Timestamp) {
		replyAt = userMsg.Timestamp
	}
	reply := domain.NewMessage(conversationID, replyText, false, voiceEnabled, replyAt)
	if err := s.messages.InsertMessage(ctx, reply); err != nil {
		return nil, errb.With("message_id", reply.ID).Wrapf(storageError(err), "store reply")
	}
	s.record(reply)

	s.touchConversation(ctx, conversationID, reply.Timestamp)

	slog.Debug("Message sent", "conversation_id", conversationID, "reply_id", reply.ID)
	return reply, nil
}

// touchConversation bumps the summary of conversationID after a stored pair.
// An absent conversation is left absent.
func (s *Service) touchConversation(ctx context.Context, conversationID string, at time.Time) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		slog.Warn("failed to load conversation for summary update", "conversation_id", conversationID, "error", err)
		return
	}
	if conv == nil {
		return
	}

	conv.Touch(at)
	if err := s.conversations.UpdateConversation(ctx, conv); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		slog.Warn("failed to update conversation summary", "conversation_id", conversationID, "error", err)
	}
}

func (s *Service) record(msg *domain.Message) {
	if s.recorder != nil {
		s.recorder.Record(msg)
	}
}

// NewConversation creates an empty conversation. A blank title gets the default.
func (s *Service) NewConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	errb := oops.In("chat")
	if err := s.validate.Struct(createRequest{Title: title}); err != nil {
		return nil, errb.Public("title must be at most 200 characters").Wrapf(validationError(err), "create conversation")
	}

	conv := domain.NewConversation(title, s.now())
	if err := s.conversations.InsertConversation(ctx, conv); err != nil {
		return nil, errb.With("conversation_id", conv.ID).Wrapf(storageError(err), "create conversation")
	}

	slog.Info("Conversation created", "conversation_id", conv.ID, "title", conv.Title)
	return conv, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return oops.In("chat").With("conversation_id", conversationID).Wrapf(err, "wait for conversation")
	}
	defer unlock()

	if err := s.conversations.DeleteConversation(ctx, conversationID); err != nil {
		return oops.In("chat").With("conversation_id", conversationID).Wrapf(storageError(err), "delete conversation")
	}

	slog.Info("Conversation deleted", "conversation_id", conversationID)
	return nil
}

// DeleteMessage removes a single message. The owning conversation's
// MessageCount is not adjusted.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		return oops.In("chat").With("message_id", messageID).Wrapf(storageError(err), "delete message")
	}
	return nil
}

// Conversation returns one conversation or an ErrNotFound error.
func (s *Service) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	errb := oops.In("chat").With("conversation_id", conversationID)
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, errb.Wrapf(storageError(err), "get conversation")
	}
	if conv == nil {
		return nil, errb.Wrapf(domain.ErrNotFound, "get conversation")
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	list, err := s.conversations.ListConversations(ctx)
	if err != nil {
		return nil, oops.In("chat").Wrapf(storageError(err), "list conversations")
	}
	return list, nil
}

// History returns the ordered messages of a conversation.
func (s *Service) History(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, oops.In("chat").With("conversation_id", conversationID).Wrapf(storageError(err), "list messages")
	}
	return msgs, nil
}

// MessageCount returns the stored message count, which may differ from the
// conversation's MessageCount after a failed summary update.
func (s *Service) MessageCount(ctx context.Context, conversationID string) (int, error) {
	n, err := s.messages.CountMessages(ctx, conversationID)
	if err != nil {
		return 0, oops.In("chat").With("conversation_id", conversationID).Wrapf(storageError(err), "count messages")
	}
	return n, nil
}

// Messages streams the ordered message list of a conversation: once now and
// again after every write to it. The channel closes when ctx is done.
func (s *Service) Messages(ctx context.Context, conversationID string) <-chan []*domain.Message {
	return s.messages.ObserveMessages(ctx, conversationID)
}

// Conversations streams the conversation list like Messages does.
func (s *Service) Conversations(ctx context.Context) <-chan []*domain.Conversation {
	return s.conversations.ObserveConversations(ctx)
}
