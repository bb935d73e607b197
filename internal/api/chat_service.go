package api

import (
	"context"
	"math"

	"github.com/matheus3301/chatmail/internal/ephemeral"
	"github.com/matheus3301/chatmail/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService implements ChatService.
type ChatService struct {
	db     *store.DB
	timers *ephemeral.Service
}

// NewChatService creates a new chat service backed by the store.
func NewChatService(db *store.DB, timers *ephemeral.Service) *ChatService {
	return &ChatService{db: db, timers: timers}
}

func (s *ChatService) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := optIntField(req, "limit", defaultLimit)
	if err != nil {
		return nil, err
	}
	chats, err := s.db.ListChats(int(limit))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	return respond(map[string]any{
		"chats":    listOf(chats, chatToMap),
		"has_more": len(chats) == int(limit),
	})
}

func (s *ChatService) GetChat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.chat(req)
	if err != nil {
		return nil, err
	}
	return respond(map[string]any{"chat": chatToMap(c)})
}

// CreateChat returns the one-to-one chat with addr, creating the contact
// and chat when needed.
func (s *ChatService) CreateChat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr := stringField(req, "addr")
	if addr == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "addr is required")
	}
	contactID, err := s.db.LookupOrCreateContact(addr, stringField(req, "name"))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "lookup contact: %v", err)
	}
	chatID, err := s.db.ChatByContact(contactID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "lookup chat: %v", err)
	}
	if chatID == 0 {
		name := stringField(req, "name")
		if name == "" {
			name = addr
		}
		if chatID, err = s.db.CreateChat(name, store.ChatNotBlocked, contactID); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "create chat: %v", err)
		}
	} else if err := s.db.AcceptChat(chatID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "accept chat: %v", err)
	}
	return respond(map[string]any{"chat_id": int64(chatID)})
}

func (s *ChatService) AcceptChat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.chat(req)
	if err != nil {
		return nil, err
	}
	if err := s.db.AcceptChat(c.ID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "accept chat: %v", err)
	}
	return respond(map[string]any{"chat_id": int64(c.ID)})
}

func (s *ChatService) GetEphemeralTimer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.chat(req)
	if err != nil {
		return nil, err
	}
	timer, err := s.timers.GetChatTimer(ctx, c.ID)
	if err != nil {
		return nil, toStatus("get timer", err)
	}
	return respond(map[string]any{
		"chat_id": int64(c.ID),
		"timer":   int64(timer.ToU32()),
		"text":    timer.String(),
	})
}

func (s *ChatService) SetEphemeralTimer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.chat(req)
	if err != nil {
		return nil, err
	}
	secs, err := intField(req, "timer")
	if err != nil {
		return nil, err
	}
	if secs < 0 || secs > math.MaxUint32 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "timer %d out of range", secs)
	}
	timer := ephemeral.FromU32(uint32(secs))
	if err := s.timers.SetChatTimer(ctx, c.ID, timer); err != nil {
		return nil, toStatus("set timer", err)
	}
	return respond(map[string]any{"chat_id": int64(c.ID), "timer": secs})
}

func (s *ChatService) chat(req *structpb.Struct) (*store.Chat, error) {
	id, err := idField[store.ChatID](req, "chat_id")
	if err != nil {
		return nil, err
	}
	if id.IsSpecial() {
		return nil, chatNotFound(id)
	}
	c, err := s.db.GetChat(id)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get chat: %v", err)
	}
	if c == nil {
		return nil, chatNotFound(id)
	}
	return c, nil
}
