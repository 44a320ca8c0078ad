// Package rpc exposes the chat service over gRPC.
//
// The service is declared by hand with protobuf well-known types as
// messages, so no generated stubs are needed.
package rpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/auryn-chat/internal/chat"
	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "auryn.chat.v1.ChatService"

const (
	sendMessageMethod       = "/" + ServiceName + "/SendMessage"
	listConversationsMethod = "/" + ServiceName + "/ListConversations"
	watchMessagesMethod     = "/" + ServiceName + "/WatchMessages"
)

// ChatServiceServer is the server API for the chat service.
type ChatServiceServer interface {
	SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListConversations(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	WatchMessages(in *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMessage", Handler: sendMessageHandler},
		{MethodName: "ListConversations", Handler: listConversationsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchMessages", Handler: watchMessagesHandler, ServerStreams: true},
	},
	Metadata: "auryn/chat/v1/chat.proto",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func sendMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMessageMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SendMessage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listConversationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).ListConversations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listConversationsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).ListConversations(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchMessagesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchMessages(in, stream)
}

// Server implements ChatServiceServer on a chat.Service.
type Server struct {
	svc *chat.Service

	// life bounds watch streams, which otherwise last until the client leaves.
	life     context.Context
	shutdown context.CancelFunc
}

// NewServer creates a gRPC chat server.
func NewServer(svc *chat.Service) *Server {
	life, shutdown := context.WithCancel(context.Background())
	return &Server{svc: svc, life: life, shutdown: shutdown}
}

// Shutdown ends every open watch stream so GracefulStop can finish.
// Unary calls are not affected.
func (s *Server) Shutdown() {
	s.shutdown()
}

// toStatus maps service errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, oops.GetPublic(err, "invalid argument"))
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		slog.Error("gRPC request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// SendMessage stores a user message and returns the reply.
func (s *Server) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	reply, err := s.svc.SendMessage(ctx,
		f["conversation_id"].GetStringValue(),
		f["content"].GetStringValue(),
		f["voice_enabled"].GetBoolValue(),
	)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := messageStruct(reply)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Server) ListConversations(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list, err := s.svc.ListConversations(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := conversationsStruct(list)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// WatchMessages streams message list snapshots until the client goes away
// or the server shuts down.
func (s *Server) WatchMessages(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	conversationID := in.GetFields()["conversation_id"].GetStringValue()

	if _, err := s.svc.Conversation(ctx, conversationID); err != nil {
		return toStatus(err)
	}

	slog.Debug("gRPC watch started", "conversation_id", conversationID)
	for msgs := range s.svc.Messages(ctx, conversationID) {
		out, err := messagesStruct(msgs)
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
	slog.Debug("gRPC watch ended", "conversation_id", conversationID)
	return nil
}

var _ ChatServiceServer = (*Server)(nil)
