package api

import (
	"errors"
	"fmt"
	"math"

	"github.com/matheus3301/chatmail/internal/calls"
	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultLimit = 50

func intField(req *structpb.Struct, key string) (int64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	return int64(n.NumberValue), nil
}

func optIntField(req *structpb.Struct, key string, def int64) (int64, error) {
	if _, ok := req.GetFields()[key]; !ok {
		return def, nil
	}
	return intField(req, key)
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func idField[T ~int64](req *structpb.Struct, key string) (T, error) {
	n, err := intField(req, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be positive", key)
	}
	return T(n), nil
}

func respond(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrMsgNotFound):
		code = codes.NotFound
	case errors.Is(err, calls.ErrNotACall),
		errors.Is(err, calls.ErrNotIncoming),
		errors.Is(err, download.ErrNothingToDownload):
		code = codes.FailedPrecondition
	case errors.Is(err, download.ErrInProgress):
		code = codes.AlreadyExists
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func chatToMap(c *store.Chat) map[string]any {
	return map[string]any{
		"id":              int64(c.ID),
		"name":            c.Name,
		"contact_request": c.IsContactRequest(),
		"blocked":         c.Blocked == store.ChatBlocked,
		"ephemeral_timer": int64(c.EphemeralTimer),
		"created_at":      c.CreatedAt,
	}
}

func messageToMap(m *store.Message) map[string]any {
	return map[string]any{
		"id":                  int64(m.ID),
		"rfc724_mid":          m.RFC724MID,
		"chat_id":             int64(m.ChatID),
		"from_id":             int64(m.FromID),
		"timestamp":           m.Timestamp,
		"timestamp_sent":      m.TimestampSent,
		"text":                m.Text,
		"state":               int64(m.State),
		"viewtype":            int64(m.Viewtype),
		"info_type":           int64(m.InfoType),
		"download_state":      download.State(m.DownloadState).String(),
		"ephemeral_timer":     int64(m.EphemeralTimer),
		"ephemeral_timestamp": m.EphemeralTimestamp,
		"outgoing":            m.FromID == store.ContactSelf,
	}
}

func listOf[T any](items []T, fn func(*T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for i := range items {
		out = append(out, fn(&items[i]))
	}
	return out
}

func chatNotFound(id store.ChatID) error {
	return grpcstatus.Error(codes.NotFound, fmt.Sprintf("chat %d not found", id))
}
