package rpc

import (
	"fmt"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages travel as google.protobuf.Struct. Times are unix milliseconds.

func messageFields(m *domain.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"content":         m.Content,
		"is_from_user":    m.IsFromUser,
		"timestamp_ms":    m.Timestamp.UnixMilli(),
		"voice_enabled":   m.VoiceEnabled,
	}
}

func conversationFields(c *domain.Conversation) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"title":         c.Title,
		"created_at_ms": c.CreatedAt.UnixMilli(),
		"updated_at_ms": c.UpdatedAt.UnixMilli(),
		"message_count": c.MessageCount,
	}
}

func messageStruct(m *domain.Message) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(messageFields(m))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func messagesStruct(msgs []*domain.Message) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"messages": lo.Map(msgs, func(m *domain.Message, _ int) any { return messageFields(m) }),
	})
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return s, nil
}

func conversationsStruct(list []*domain.Conversation) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"conversations": lo.Map(list, func(c *domain.Conversation, _ int) any { return conversationFields(c) }),
	})
	if err != nil {
		return nil, fmt.Errorf("encode conversations: %w", err)
	}
	return s, nil
}

func millis(v *structpb.Value) time.Time {
	return time.UnixMilli(int64(v.GetNumberValue()))
}

func decodeMessage(s *structpb.Struct) *domain.Message {
	f := s.GetFields()
	return &domain.Message{
		ID:             f["id"].GetStringValue(),
		ConversationID: f["conversation_id"].GetStringValue(),
		Content:        f["content"].GetStringValue(),
		IsFromUser:     f["is_from_user"].GetBoolValue(),
		Timestamp:      millis(f["timestamp_ms"]),
		VoiceEnabled:   f["voice_enabled"].GetBoolValue(),
	}
}

func decodeConversation(s *structpb.Struct) *domain.Conversation {
	f := s.GetFields()
	return &domain.Conversation{
		ID:           f["id"].GetStringValue(),
		Title:        f["title"].GetStringValue(),
		CreatedAt:    millis(f["created_at_ms"]),
		UpdatedAt:    millis(f["updated_at_ms"]),
		MessageCount: int(f["message_count"].GetNumberValue()),
	}
}

// decodeList decodes the struct values of a list field.
func decodeList[T any](s *structpb.Struct, field string, decode func(*structpb.Struct) T) []T {
	values := s.GetFields()[field].GetListValue().GetValues()
	return lo.Map(values, func(v *structpb.Value, _ int) T {
		return decode(v.GetStructValue())
	})
}
