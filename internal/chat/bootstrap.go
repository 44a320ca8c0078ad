package chat

import (
	"context"
	"log/slog"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/samber/oops"
)

// Bootstrap picks the conversation a new process starts on: the most recently
// updated one, or a fresh conversation titled title when none exist.
func (s *Service) Bootstrap(ctx context.Context, title string) (string, error) {
	list, err := s.conversations.ListConversations(ctx)
	if err != nil {
		return "", oops.In("chat").Wrapf(storageError(err), "bootstrap conversation")
	}
	if len(list) > 0 {
		slog.Info("Resuming conversation", "conversation_id", list[0].ID, "title", list[0].Title)
		return list[0].ID, nil
	}

	if title == "" {
		title = domain.DefaultConversationTitle
	}
	conv, err := s.NewConversation(ctx, title)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}
