package ephemeral

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// MessageSender hands a prepared message to the transport.
type MessageSender interface {
	SendMsg(ctx context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error)
}

// Retention holds the account-wide retention settings in seconds.
// A nil value means "never"; a zero DeleteServerAfter means "immediately".
type Retention struct {
	DeleteServerAfter *int64
	DeleteDeviceAfter *int64
}

// Service owns chat timers and the deletion sweeps.
type Service struct {
	db        *store.DB
	bus       *bus.Bus
	sender    MessageSender
	retention Retention
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the ephemeral service. sender may be nil when the
// service is only used for sweeping.
func NewService(db *store.DB, b *bus.Bus, sender MessageSender, retention Retention, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        db,
		bus:       b,
		sender:    sender,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// GetChatTimer returns the timer setting of a chat.
func (s *Service) GetChatTimer(_ context.Context, chatID store.ChatID) (Timer, error) {
	return ChatTimer(s.db, chatID)
}

// ChatTimer reads the timer of a chat. Unknown chats have no timer.
func ChatTimer(db *store.DB, chatID store.ChatID) (Timer, error) {
	chat, err := db.GetChat(chatID)
	if err != nil {
		return Disabled, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return Disabled, nil
	}
	return FromU32(chat.EphemeralTimer), nil
}

// SetChatTimer changes the timer of a chat and tells the other members.
// The change message carries the new value and becomes the reference point
// for rollback protection.
func (s *Service) SetChatTimer(ctx context.Context, chatID store.ChatID, timer Timer) error {
	if chatID.IsSpecial() {
		return fmt.Errorf("set ephemeral timer: chat %d is special", chatID)
	}
	current, err := s.GetChatTimer(ctx, chatID)
	if err != nil {
		return err
	}
	if current == timer {
		return nil
	}

	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return fmt.Errorf("set ephemeral timer: chat %d not found", chatID)
	}
	if err := s.db.SetChatEphemeral(chatID, timer.ToU32(), chat.EphemeralChangeMID, chat.EphemeralChangeTS); err != nil {
		return fmt.Errorf("store timer: %w", err)
	}

	if s.sender != nil {
		msg := &store.Message{
			Viewtype: store.ViewtypeText,
			InfoType: store.InfoEphemeralTimerChanged,
			Text:     infoText(timer),
		}
		id, err := s.sender.SendMsg(ctx, chatID, msg)
		if err != nil {
			return fmt.Errorf("send timer change: %w", err)
		}
		sent, err := s.db.LoadMessage(id)
		if err != nil {
			return err
		}
		if err := s.db.SetChatEphemeral(chatID, timer.ToU32(), sent.RFC724MID, sent.TimestampSent); err != nil {
			return fmt.Errorf("store timer change reference: %w", err)
		}
	}

	s.logger.Info("ephemeral timer changed",
		zap.Int64("chat_id", int64(chatID)),
		zap.Uint32("timer", timer.ToU32()))
	s.bus.Emit(bus.KindChatEphemeralTimerModified, bus.TimerEvent{ChatID: int64(chatID), Timer: timer.ToU32()})
	return nil
}

// addInfoMsg inserts a local-only info message into a chat.
func (s *Service) addInfoMsg(chatID store.ChatID, text string, ts int64) error {
	m := &store.Message{
		RFC724MID:     uuid.NewString() + "@localhost",
		ChatID:        chatID,
		FromID:        store.ContactInfo,
		ToID:          store.ContactInfo,
		Timestamp:     ts,
		TimestampSent: ts,
		TimestampRcvd: ts,
		Viewtype:      store.ViewtypeText,
		InfoType:      store.InfoEphemeralTimerChanged,
		State:         store.StateInSeen,
		Text:          text,
	}
	if _, err := s.db.InsertMessage(m); err != nil {
		return fmt.Errorf("add info message: %w", err)
	}
	s.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(chatID), MsgID: int64(m.ID)})
	return nil
}
