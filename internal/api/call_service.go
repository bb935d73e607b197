package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatmail/internal/calls"
	"github.com/matheus3301/chatmail/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// CallService implements CallService.
type CallService struct {
	calls *calls.Manager
}

// NewCallService creates a new call service.
func NewCallService(m *calls.Manager) *CallService {
	return &CallService{calls: m}
}

func (s *CallService) PlaceCall(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := idField[store.ChatID](req, "chat_id")
	if err != nil {
		return nil, err
	}
	id, err := s.calls.PlaceOutgoingCall(ctx, chatID, stringField(req, "info"))
	if err != nil {
		return nil, toStatus("place call", err)
	}
	return respond(map[string]any{"msg_id": int64(id)})
}

func (s *CallService) AcceptCall(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	if err := s.calls.AcceptIncomingCall(ctx, msgID, stringField(req, "info")); err != nil {
		return nil, toStatus("accept call", err)
	}
	return respond(map[string]any{"msg_id": int64(msgID)})
}

func (s *CallService) EndCall(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	if err := s.calls.EndCall(ctx, msgID); err != nil {
		return nil, toStatus("end call", err)
	}
	return respond(map[string]any{"msg_id": int64(msgID)})
}

func (s *CallService) GetCallInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msgID, err := idField[store.MsgID](req, "msg_id")
	if err != nil {
		return nil, err
	}
	c, err := s.calls.LoadCall(ctx, msgID)
	if err != nil {
		return nil, toStatus("load call", err)
	}
	now := time.Now().Unix()
	return respond(map[string]any{
		"msg_id":           int64(msgID),
		"chat_id":          int64(c.Msg.ChatID),
		"incoming":         c.Incoming,
		"state":            c.State(now).String(),
		"place_call_info":  c.PlaceCallInfo(),
		"accept_call_info": c.AcceptCallInfo(),
		"accepted_at":      c.AcceptedAt,
		"ring_seconds":     c.RemainingRingSeconds(now),
	})
}
