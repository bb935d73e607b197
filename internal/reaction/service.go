package reaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// MessageSender hands a prepared message to the transport.
type MessageSender interface {
	SendMsg(ctx context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error)
}

// Service sets, sends and receives reactions.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	sender MessageSender
	logger *zap.Logger
}

// NewService creates a reaction service.
func NewService(db *store.DB, b *bus.Bus, sender MessageSender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, bus: b, sender: sender, logger: logger}
}

// SetReaction replaces the reaction of a contact to a message. An empty
// reaction removes the row.
func (s *Service) SetReaction(ctx context.Context, chatID store.ChatID, msgID store.MsgID, contactID store.ContactID, r Reaction) error {
	var err error
	if r.IsEmpty() {
		_, err = s.db.ExecContext(ctx, `DELETE FROM reactions WHERE msg_id = ? AND contact_id = ?`, msgID, contactID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO reactions (msg_id, contact_id, reaction) VALUES (?, ?, ?)
			ON CONFLICT(msg_id, contact_id) DO UPDATE SET reaction = excluded.reaction`,
			msgID, contactID, r.String())
	}
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	s.bus.Emit(bus.KindReactionsChanged, bus.ReactionEvent{
		ChatID:    int64(chatID),
		MsgID:     int64(msgID),
		ContactID: int64(contactID),
		Reaction:  r.String(),
	})
	return nil
}

// SendReaction sets our reaction to a message and sends it to the chat.
// The local reaction is kept when sending fails.
func (s *Service) SendReaction(ctx context.Context, msgID store.MsgID, raw string) (store.MsgID, error) {
	target, err := s.db.LoadMessage(msgID)
	if err != nil {
		return 0, err
	}
	if target.ChatID.IsSpecial() {
		return 0, fmt.Errorf("send reaction: message %d is not in a chat", msgID)
	}
	r := Parse(raw)
	if err := s.SetReaction(ctx, target.ChatID, msgID, store.ContactSelf, r); err != nil {
		return 0, err
	}

	msg := &store.Message{
		Viewtype:  store.ViewtypeText,
		Text:      r.String(),
		Hidden:    true,
		InReplyTo: target.RFC724MID,
		Param:     store.Params{store.ParamReaction: "1"},
	}
	id, err := s.sender.SendMsg(ctx, target.ChatID, msg)
	if err != nil {
		return 0, fmt.Errorf("send reaction: %w", err)
	}
	return id, nil
}

// AddReaction adds emojis to our current reaction and sends the union.
func (s *Service) AddReaction(ctx context.Context, msgID store.MsgID, raw string) (store.MsgID, error) {
	self, err := s.GetSelfReaction(ctx, msgID)
	if err != nil {
		return 0, err
	}
	return s.SendReaction(ctx, msgID, self.Add(Parse(raw)).String())
}

// GetMsgReactions returns all reactions to a message.
func (s *Service) GetMsgReactions(ctx context.Context, msgID store.MsgID) (*Reactions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, reaction FROM reactions WHERE msg_id = ?`, msgID)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rs := &Reactions{byContact: make(map[store.ContactID]Reaction)}
	for rows.Next() {
		var id store.ContactID
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		if r := Parse(raw); !r.IsEmpty() {
			rs.byContact[id] = r
		}
	}
	return rs, rows.Err()
}

// GetSelfReaction returns our own reaction to a message.
func (s *Service) GetSelfReaction(ctx context.Context, msgID store.MsgID) (Reaction, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT reaction FROM reactions WHERE msg_id = ? AND contact_id = ?`,
		msgID, store.ContactSelf).Scan(&raw)
	if err == sql.ErrNoRows {
		return Reaction{}, nil
	}
	if err != nil {
		return Reaction{}, fmt.Errorf("get self reaction: %w", err)
	}
	return Parse(raw), nil
}

// ReceiveReaction applies a reaction received from contactID to the message
// with the given Message-ID. Reactions to unknown messages are ignored.
func (s *Service) ReceiveReaction(ctx context.Context, inReplyTo string, contactID store.ContactID, raw string) error {
	target, err := s.db.LiveMessageByRFC724MID(inReplyTo)
	if err != nil {
		return fmt.Errorf("resolve reaction target: %w", err)
	}
	if target == nil {
		s.logger.Info("ignoring reaction to unknown message",
			zap.String("rfc724_mid", inReplyTo),
			zap.Int64("contact_id", int64(contactID)))
		return nil
	}
	r := Parse(raw)
	if err := s.SetReaction(ctx, target.ChatID, target.ID, contactID, r); err != nil {
		return err
	}
	if target.FromID == store.ContactSelf && contactID != store.ContactSelf && !r.IsEmpty() {
		s.bus.Emit(bus.KindIncomingReaction, bus.ReactionEvent{
			ChatID:    int64(target.ChatID),
			MsgID:     int64(target.ID),
			ContactID: int64(contactID),
			Reaction:  r.String(),
		})
	}
	return nil
}
