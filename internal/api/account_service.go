package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/status"
	"github.com/matheus3301/chatmail/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// AccountService reports the state of the running account.
type AccountService struct {
	accountName string
	startedAt   time.Time
	machine     *status.Machine
	bus         *bus.Bus
	db          *store.DB
}

// NewAccountService creates a new account service.
func NewAccountService(accountName string, machine *status.Machine, b *bus.Bus, db *store.DB) *AccountService {
	return &AccountService{
		accountName: accountName,
		startedAt:   time.Now(),
		machine:     machine,
		bus:         b,
		db:          db,
	}
}

func (s *AccountService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state, since := s.machine.Snapshot()
	resp := map[string]any{
		"account":              s.accountName,
		"status":               string(state),
		"status_since_unix_ms": since.UnixMilli(),
		"uptime_ms":            time.Since(s.startedAt).Milliseconds(),
		"dropped_events":       int64(s.bus.Dropped()),
	}
	if addr, err := s.db.SelfAddr(); err == nil {
		resp["addr"] = addr
	}
	if n, err := s.db.ChatCount(); err == nil {
		resp["chat_count"] = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp["message_count"] = n
	}
	return respond(resp)
}
