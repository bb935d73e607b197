// Package api exposes the daemon over gRPC. Requests and responses are
// google.protobuf.Struct messages; the service descriptors are declared by
// hand in this file.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully qualified service names.
const (
	AccountServiceName = "chatmail.v1.AccountService"
	ChatServiceName    = "chatmail.v1.ChatService"
	MessageServiceName = "chatmail.v1.MessageService"
	CallServiceName    = "chatmail.v1.CallService"
	EventServiceName   = "chatmail.v1.EventService"
)

// AccountServer serves account status.
type AccountServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ChatServer serves chats and their ephemeral timers.
type ChatServer interface {
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEphemeralTimer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetEphemeralTimer(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MessageServer serves messages, reactions and downloads.
type MessageServer interface {
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendReaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddReaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DownloadFull(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// CallServer serves call signaling.
type CallServer interface {
	PlaceCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCallInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// EventServer streams bus events.
type EventServer interface {
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

func unary[S any](service, method string, fn func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AccountServiceDesc describes AccountService.
var AccountServiceDesc = grpc.ServiceDesc{
	ServiceName: AccountServiceName,
	HandlerType: (*AccountServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AccountServiceName, "GetStatus", AccountServer.GetStatus),
	},
}

// ChatServiceDesc describes ChatService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListChats", ChatServer.ListChats),
		unary(ChatServiceName, "GetChat", ChatServer.GetChat),
		unary(ChatServiceName, "CreateChat", ChatServer.CreateChat),
		unary(ChatServiceName, "AcceptChat", ChatServer.AcceptChat),
		unary(ChatServiceName, "GetEphemeralTimer", ChatServer.GetEphemeralTimer),
		unary(ChatServiceName, "SetEphemeralTimer", ChatServer.SetEphemeralTimer),
	},
}

// MessageServiceDesc describes MessageService.
var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "ListMessages", MessageServer.ListMessages),
		unary(MessageServiceName, "GetMessage", MessageServer.GetMessage),
		unary(MessageServiceName, "SendText", MessageServer.SendText),
		unary(MessageServiceName, "SendReaction", MessageServer.SendReaction),
		unary(MessageServiceName, "AddReaction", MessageServer.AddReaction),
		unary(MessageServiceName, "GetReactions", MessageServer.GetReactions),
		unary(MessageServiceName, "DownloadFull", MessageServer.DownloadFull),
	},
}

// CallServiceDesc describes CallService.
var CallServiceDesc = grpc.ServiceDesc{
	ServiceName: CallServiceName,
	HandlerType: (*CallServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CallServiceName, "PlaceCall", CallServer.PlaceCall),
		unary(CallServiceName, "AcceptCall", CallServer.AcceptCall),
		unary(CallServiceName, "EndCall", CallServer.EndCall),
		unary(CallServiceName, "GetCallInfo", CallServer.GetCallInfo),
	},
}

// EventServiceDesc describes EventService.
var EventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(EventServer).Subscribe(in, stream)
			},
		},
	},
}
