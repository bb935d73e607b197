package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/chatmail/internal/bus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const eventBuffer = 256

// EventService streams bus events to clients.
type EventService struct {
	bus         *bus.Bus
	accountName string
}

// NewEventService creates a new event service.
func NewEventService(b *bus.Bus, accountName string) *EventService {
	return &EventService{bus: b, accountName: accountName}
}

// Subscribe streams every event whose kind starts with the requested prefix
// until the client goes away.
func (s *EventService) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(stringField(req, "prefix"), eventBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := envelope(s.accountName, evt)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func envelope(account string, evt bus.Event) (*structpb.Struct, error) {
	payload, err := payloadStruct(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", evt.Kind, err)
	}
	env, err := structpb.NewStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"account":             account,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	env.Fields["payload"] = structpb.NewStructValue(payload)
	return env, nil
}

// payloadStruct converts a bus payload through its JSON form.
func payloadStruct(payload any) (*structpb.Struct, error) {
	if payload == nil {
		return &structpb.Struct{}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return out, nil
}
