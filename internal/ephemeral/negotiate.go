package ephemeral

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// LastChangeKind tells what is known about the message that last changed a
// chat timer.
type LastChangeKind int

const (
	// NoChange: the timer was never changed by a message.
	NoChange LastChangeKind = iota
	// Present: the change message is still in the database.
	Present
	// Absent: the change message was deleted since.
	Absent
)

// LastChange describes the message that last changed the chat timer.
type LastChange struct {
	Kind      LastChangeKind
	MID       string
	Timestamp int64
}

// Incoming is the timer-relevant view of a received message.
type Incoming struct {
	MessageID     string
	Timer         Timer
	TimestampSent int64
	InReplyTo     string
	References    []string
	IsReaction    bool
	// Explicit is set for EphemeralTimerChanged system messages, which are
	// displayed themselves and need no extra info message.
	Explicit bool
}

// parent is the Message-ID the message directly answers: the last References
// entry, or In-Reply-To when References is empty.
func (in Incoming) parent() string {
	if n := len(in.References); n > 0 {
		return in.References[n-1]
	}
	return in.InReplyTo
}

// ShouldApply decides whether the timer carried by in may replace the current
// chat timer.
//
// A message whose parent is the last change was written by someone who had
// seen that change. Its timer is taken while the change message is still
// known locally. Once the change message is gone an implicit timer is
// ignored, since the sender may simply not have carried the header. An
// explicit timer change is still taken then if it is not older than the
// change. Any other message is applied unless it was sent before the change.
func ShouldApply(in Incoming, last LastChange) bool {
	if in.IsReaction {
		return false
	}
	if last.Kind == NoChange {
		return true
	}
	if last.MID != "" && in.parent() == last.MID {
		switch {
		case last.Kind == Present:
			return true
		case !in.Explicit:
			return false
		}
	}
	return in.TimestampSent >= last.Timestamp
}

// LastChange resolves the recorded change message of a chat against the store.
func (s *Service) LastChange(_ context.Context, chatID store.ChatID) (LastChange, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return LastChange{}, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil || chat.EphemeralChangeMID == "" {
		return LastChange{Kind: NoChange}, nil
	}
	m, err := s.db.LiveMessageByRFC724MID(chat.EphemeralChangeMID)
	if err != nil {
		return LastChange{}, fmt.Errorf("lookup change message: %w", err)
	}
	kind := Present
	if m == nil {
		kind = Absent
	}
	return LastChange{Kind: kind, MID: chat.EphemeralChangeMID, Timestamp: chat.EphemeralChangeTS}, nil
}

// ApplyReceived adopts the timer of a received message when it differs from
// the chat timer and rollback protection allows it. It reports whether the
// chat timer changed.
func (s *Service) ApplyReceived(ctx context.Context, chatID store.ChatID, in Incoming) (bool, error) {
	if in.IsReaction || chatID.IsSpecial() {
		return false, nil
	}
	current, err := s.GetChatTimer(ctx, chatID)
	if err != nil {
		return false, err
	}
	if current == in.Timer {
		return false, nil
	}
	last, err := s.LastChange(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !ShouldApply(in, last) {
		s.logger.Info("ignoring ephemeral timer change to avoid rollback",
			zap.Int64("chat_id", int64(chatID)),
			zap.String("rfc724_mid", in.MessageID),
			zap.Uint32("timer", in.Timer.ToU32()),
			zap.Uint32("current", current.ToU32()))
		return false, nil
	}

	if err := s.db.SetChatEphemeral(chatID, in.Timer.ToU32(), in.MessageID, in.TimestampSent); err != nil {
		return false, fmt.Errorf("store timer: %w", err)
	}
	s.logger.Info("ephemeral timer changed by peer",
		zap.Int64("chat_id", int64(chatID)),
		zap.String("rfc724_mid", in.MessageID),
		zap.Uint32("timer", in.Timer.ToU32()))

	if !in.Explicit {
		if err := s.addInfoMsg(chatID, infoText(in.Timer), s.now().Unix()); err != nil {
			return true, err
		}
	}
	s.bus.Emit(bus.KindChatEphemeralTimerModified, bus.TimerEvent{ChatID: int64(chatID), Timer: in.Timer.ToU32()})
	return true, nil
}
