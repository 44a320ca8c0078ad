package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/ashureev/auryn-chat/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the chat service over a gRPC connection.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial creates a client for addr. No network I/O happens until the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create chat client for %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close is then the caller's job.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes a connection created by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SendMessage sends content to a conversation and returns the reply.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, voiceEnabled bool) (*domain.Message, error) {
	in, err := structpb.NewStruct(map[string]any{
		"conversation_id": conversationID,
		"content":         content,
		"voice_enabled":   voiceEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, sendMessageMethod, in, out); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return decodeMessage(out), nil
}

// ListConversations returns every conversation, most recently updated first.
func (c *Client) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listConversationsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return decodeList(out, "conversations", decodeConversation), nil
}

// WatchMessages yields message list snapshots of a conversation until ctx is
// done, the server ends the stream, or the consumer stops.
func (c *Client) WatchMessages(ctx context.Context, conversationID string) iter.Seq2[[]*domain.Message, error] {
	return func(yield func([]*domain.Message, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], watchMessagesMethod)
		if err != nil {
			yield(nil, fmt.Errorf("watch messages: %w", err))
			return
		}

		in, err := structpb.NewStruct(map[string]any{"conversation_id": conversationID})
		if err != nil {
			yield(nil, fmt.Errorf("encode watch request: %w", err))
			return
		}
		if err := stream.SendMsg(in); err != nil {
			yield(nil, fmt.Errorf("watch messages: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("watch messages: %w", err))
			return
		}

		for {
			out := new(structpb.Struct)
			err := stream.RecvMsg(out)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("watch stream error: %w", err))
				return
			}
			if !yield(decodeList(out, "messages", decodeMessage), nil) {
				return
			}
		}
	}
}
