package api

import (
	"context"

	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/outbox"
	"github.com/matheus3301/chatmail/internal/reaction"
	"github.com/matheus3301/chatmail/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageService implements MessageService.
type MessageService struct {
	db        *store.DB
	sender    *outbox.Sender
	reactions *reaction.Service
	downloads *download.Service
}

// NewMessageService creates a new message service.
func NewMessageService(db *store.DB, sender *outbox.Sender, reactions *reaction.Service, downloads *download.Service) *MessageService {
	return &MessageService{db: db, sender: sender, reactions: reactions, downloads: downloads}
}

func (s *MessageService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := idField[store.ChatID](req, "chat_id")
	if err != nil {
		return nil, err
	}
	limit, err := optIntField(req, "limit", defaultLimit)
	if err != nil {
		return nil, err
	}
	msgs, err := s.db.ListMessages(chatID, int(limit))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return respond(map[string]any{
		"messages": listOf(msgs, messageToMap),
		"has_more": len(msgs) == int(limit),
	})
}

func (s *MessageService) GetMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	m, err := s.db.LoadMessage(msgID)
	if err != nil {
		return nil, toStatus("get message", err)
	}
	return respond(map[string]any{"message": messageToMap(m)})
}

func (s *MessageService) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := idField[store.ChatID](req, "chat_id")
	if err != nil {
		return nil, err
	}
	text := stringField(req, "text")
	if text == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text is required")
	}
	id, err := s.sender.SendMsg(ctx, chatID, &store.Message{Viewtype: store.ViewtypeText, Text: text})
	if err != nil {
		return nil, toStatus("send", err)
	}
	return respond(map[string]any{"msg_id": int64(id)})
}

// SendReaction replaces our reaction to a message. An empty reaction
// retracts it.
func (s *MessageService) SendReaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.react(ctx, req, s.reactions.SendReaction)
}

// AddReaction adds emojis to our existing reaction.
func (s *MessageService) AddReaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.react(ctx, req, s.reactions.AddReaction)
}

func (s *MessageService) react(ctx context.Context, req *structpb.Struct, fn func(context.Context, store.MsgID, string) (store.MsgID, error)) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	sent, err := fn(ctx, msgID, stringField(req, "reaction"))
	if err != nil {
		return nil, toStatus("react", err)
	}
	return respond(map[string]any{"msg_id": int64(msgID), "reaction_msg_id": int64(sent)})
}

func (s *MessageService) GetReactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	rs, err := s.reactions.GetMsgReactions(ctx, msgID)
	if err != nil {
		return nil, toStatus("get reactions", err)
	}
	byContact := make([]any, 0)
	for _, id := range rs.Contacts() {
		emojis := make([]any, 0)
		for _, e := range rs.Get(id).Emojis() {
			emojis = append(emojis, e)
		}
		byContact = append(byContact, map[string]any{"contact_id": int64(id), "emojis": emojis})
	}
	counts := make([]any, 0)
	for _, c := range rs.EmojiSortedByFrequency() {
		counts = append(counts, map[string]any{"emoji": c.Emoji, "count": c.Count})
	}
	return respond(map[string]any{
		"msg_id":     int64(msgID),
		"by_contact": byContact,
		"counts":     counts,
		"summary":    rs.String(),
	})
}

func (s *MessageService) DownloadFull(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	if err := s.downloads.DownloadFull(ctx, msgID); err != nil {
		return nil, toStatus("download", err)
	}
	return respond(map[string]any{"msg_id": int64(msgID), "download_state": download.InProgress.String()})
}
