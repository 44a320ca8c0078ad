package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewMessage_TruncatesToMillis(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	msg := NewMessage("c1", "hello", true, false, at)

	require.NotEmpty(t, msg.ID)
	require.Equal(t, "c1", msg.ConversationID)
	require.Equal(t, at.UnixMilli(), msg.Timestamp.UnixMilli())
	require.Zero(t, msg.Timestamp.Nanosecond()%int(time.Millisecond))
	require.Equal(t, "user", msg.Role())
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage("c1", "x", false, false, time.Now())
	b := NewMessage("c1", "x", false, false, time.Now())
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, "assistant", a.Role())
}

func TestNewConversation_DefaultTitle(t *testing.T) {
	conv := NewConversation("", time.Now())
	require.Equal(t, DefaultConversationTitle, conv.Title)
	require.Equal(t, conv.CreatedAt, conv.UpdatedAt)
	require.Zero(t, conv.MessageCount)
}

func TestConversation_Touch(t *testing.T) {
	start := time.Now()
	conv := NewConversation("Test", start)

	conv.Touch(start.Add(time.Second))
	require.Equal(t, 2, conv.MessageCount)
	require.Equal(t, start.Add(time.Second).UnixMilli(), conv.UpdatedAt.UnixMilli())

	// A clock step backwards must not rewind UpdatedAt.
	before := conv.UpdatedAt
	conv.Touch(start.Add(-time.Hour))
	require.Equal(t, 4, conv.MessageCount)
	require.True(t, conv.UpdatedAt.Equal(before))
}
