package calls

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"github.com/matheus3301/chatmail/internal/syncitems"
	"go.uber.org/zap"
)

// MessageSender hands a prepared message to the transport.
type MessageSender interface {
	SendMsg(ctx context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error)
}

// SyncChannel reaches the user's other devices only.
type SyncChannel interface {
	Add(ctx context.Context, d syncitems.Data) error
	Flush(ctx context.Context) (store.MsgID, error)
}

// Interrupter wakes the IMAP session.
type Interrupter interface {
	InterruptInbox()
}

// Manager places, accepts and ends calls and reacts to received call
// messages.
type Manager struct {
	db     *store.DB
	bus    *bus.Bus
	sender MessageSender
	sync   SyncChannel
	imap   Interrupter
	logger *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewManager creates a call manager. imap may be nil.
func NewManager(db *store.DB, b *bus.Bus, sender MessageSender, sync SyncChannel, imap Interrupter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:     db,
		bus:    b,
		sender: sender,
		sync:   sync,
		imap:   imap,
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// SetInterrupter sets the IMAP session woken after local-only rejections.
func (m *Manager) SetInterrupter(imap Interrupter) { m.imap = imap }

// LoadCall derives the call whose root message has the given id.
func (m *Manager) LoadCall(_ context.Context, msgID store.MsgID) (*CallInfo, error) {
	root, err := m.db.LoadMessage(msgID)
	if err != nil {
		return nil, err
	}
	ended, err := m.db.HasChildWithInfo(root.RFC724MID, store.InfoCallEnded)
	if err != nil {
		return nil, fmt.Errorf("lookup call end: %w", err)
	}
	return Derive(root, ended)
}

// PlaceOutgoingCall sends a call invitation to the chat and starts the ring
// timeout.
func (m *Manager) PlaceOutgoingCall(ctx context.Context, chatID store.ChatID, placeCallInfo string) (store.MsgID, error) {
	msg := &store.Message{
		Viewtype: store.ViewtypeCall,
		InfoType: store.InfoOutgoingCall,
		Text:     "Outgoing call",
		Param:    store.Params{store.ParamPlaceCallInfo: placeCallInfo},
	}
	id, err := m.sender.SendMsg(ctx, chatID, msg)
	if err != nil {
		return 0, fmt.Errorf("place call: %w", err)
	}
	m.logger.Info("outgoing call placed", zap.Int64("chat_id", int64(chatID)), zap.Int64("msg_id", int64(id)))
	go m.watch(id, RingingSeconds)
	return id, nil
}

// AcceptIncomingCall accepts a ringing incoming call. The acceptance reaches
// the caller and our other devices.
func (m *Manager) AcceptIncomingCall(ctx context.Context, msgID store.MsgID, acceptCallInfo string) error {
	call, err := m.LoadCall(ctx, msgID)
	if err != nil {
		return err
	}
	if !call.Incoming {
		return ErrNotIncoming
	}
	if call.Accepted {
		return nil
	}

	chat, err := m.db.GetChat(call.Msg.ChatID)
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}
	if chat != nil && chat.IsContactRequest() {
		if err := m.db.AcceptChat(chat.ID); err != nil {
			return fmt.Errorf("accept chat: %w", err)
		}
	}

	root := call.Msg
	root.Param.SetInt64(store.ParamCallAccepted, m.now().Unix())
	root.Param.Set(store.ParamAcceptCallInfo, acceptCallInfo)
	if err := m.db.UpdateMessageParam(root.ID, root.Param); err != nil {
		return fmt.Errorf("mark call accepted: %w", err)
	}

	reply := &store.Message{
		Viewtype:  store.ViewtypeText,
		InfoType:  store.InfoCallAccepted,
		Text:      "Call accepted",
		Hidden:    true,
		InReplyTo: root.RFC724MID,
		Param: store.Params{
			store.ParamQuote:          root.RFC724MID,
			store.ParamAcceptCallInfo: acceptCallInfo,
		},
	}
	if _, err := m.sender.SendMsg(ctx, root.ChatID, reply); err != nil {
		return fmt.Errorf("send call accepted: %w", err)
	}
	m.logger.Info("incoming call accepted", zap.Int64("msg_id", int64(root.ID)))
	m.bus.Emit(bus.KindIncomingCallAccepted, bus.CallEvent{ChatID: int64(root.ChatID), MsgID: int64(root.ID)})
	return nil
}

// EndCall hangs up or declines a call. Declining an incoming call that was
// never accepted only informs our other devices so the caller cannot tell a
// rejection from a timeout.
func (m *Manager) EndCall(ctx context.Context, msgID store.MsgID) error {
	call, err := m.LoadCall(ctx, msgID)
	if err != nil {
		return err
	}
	root := call.Msg
	if call.Ended {
		m.emitEnded(root)
		return nil
	}

	if err := m.markEnded(root); err != nil {
		return err
	}

	if call.Accepted || !call.Incoming {
		reply := &store.Message{
			Viewtype:  store.ViewtypeText,
			InfoType:  store.InfoCallEnded,
			Text:      "Call ended",
			Hidden:    true,
			InReplyTo: root.RFC724MID,
			Param:     store.Params{store.ParamQuote: root.RFC724MID},
		}
		if _, err := m.sender.SendMsg(ctx, root.ChatID, reply); err != nil {
			return fmt.Errorf("send call ended: %w", err)
		}
	} else {
		if err := m.sync.Add(ctx, syncitems.RejectIncomingCall{Msg: root.RFC724MID}); err != nil {
			return fmt.Errorf("queue call rejection: %w", err)
		}
		if _, err := m.sync.Flush(ctx); err != nil {
			return fmt.Errorf("send call rejection: %w", err)
		}
		if m.imap != nil {
			m.imap.InterruptInbox()
		}
	}

	m.logger.Info("call ended", zap.Int64("msg_id", int64(root.ID)), zap.Bool("accepted", call.Accepted))
	m.emitEnded(root)
	return nil
}

// HandleIncoming reacts to a stored call message received from the network.
func (m *Manager) HandleIncoming(ctx context.Context, msgID store.MsgID) error {
	msg, err := m.db.LoadMessage(msgID)
	if err != nil {
		return err
	}
	switch msg.InfoType {
	case store.InfoIncomingCall:
		return m.handleInvite(ctx, msg)
	case store.InfoOutgoingCall:
		// Placed from another of our devices.
		m.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(msg.ChatID), MsgID: int64(msg.ID)})
		return nil
	case store.InfoCallAccepted:
		return m.handleAccepted(ctx, msg)
	case store.InfoCallEnded:
		return m.handleEnded(ctx, msg.InReplyTo)
	}
	return fmt.Errorf("message %d: %w", msgID, ErrNotACall)
}

func (m *Manager) handleInvite(ctx context.Context, msg *store.Message) error {
	call, err := m.LoadCall(ctx, msg.ID)
	if err != nil {
		return err
	}
	now := m.now().Unix()
	if call.Ended {
		return nil
	}
	if call.IsStale(now) {
		m.logger.Info("missed call, arrived after ringing timeout",
			zap.Int64("msg_id", int64(msg.ID)),
			zap.Int64("timestamp_sent", msg.TimestampSent))
		m.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(msg.ChatID), MsgID: int64(msg.ID)})
		return nil
	}
	m.bus.Emit(bus.KindIncomingCall, bus.CallEvent{
		ChatID: int64(msg.ChatID),
		MsgID:  int64(msg.ID),
		Info:   call.PlaceCallInfo(),
	})
	go m.watch(msg.ID, call.RemainingRingSeconds(now))
	return nil
}

func (m *Manager) handleAccepted(ctx context.Context, msg *store.Message) error {
	root, err := m.callRoot(msg.InReplyTo)
	if err != nil || root == nil {
		return err
	}
	call, err := m.LoadCall(ctx, root.ID)
	if err != nil {
		return err
	}
	if !call.Accepted {
		root.Param.SetInt64(store.ParamCallAccepted, msg.TimestampSent)
		if info := msg.Param.Get(store.ParamAcceptCallInfo); info != "" {
			root.Param.Set(store.ParamAcceptCallInfo, info)
		}
		if err := m.db.UpdateMessageParam(root.ID, root.Param); err != nil {
			return fmt.Errorf("mark call accepted: %w", err)
		}
	}
	if call.Incoming {
		// Accepted on another of our devices.
		m.bus.Emit(bus.KindIncomingCallAccepted, bus.CallEvent{ChatID: int64(root.ChatID), MsgID: int64(root.ID)})
		return nil
	}
	m.bus.Emit(bus.KindOutgoingCallAccepted, bus.CallEvent{
		ChatID: int64(root.ChatID),
		MsgID:  int64(root.ID),
		Info:   msg.Param.Get(store.ParamAcceptCallInfo),
	})
	return nil
}

func (m *Manager) handleEnded(_ context.Context, rootMID string) error {
	root, err := m.callRoot(rootMID)
	if err != nil || root == nil {
		return err
	}
	if err := m.markEnded(root); err != nil {
		return err
	}
	m.emitEnded(root)
	return nil
}

// HandleRejectSync ends a call declined on another of our devices.
func (m *Manager) HandleRejectSync(ctx context.Context, rootMID string) error {
	return m.handleEnded(ctx, rootMID)
}

// callRoot resolves the call message a signaling message replies to. Unknown
// roots are ignored.
func (m *Manager) callRoot(mid string) (*store.Message, error) {
	root, err := m.db.LiveMessageByRFC724MID(mid)
	if err != nil {
		return nil, fmt.Errorf("resolve call root: %w", err)
	}
	if root == nil {
		m.logger.Info("ignoring signaling for unknown call", zap.String("rfc724_mid", mid))
		return nil, nil
	}
	if root.InfoType != store.InfoIncomingCall && root.InfoType != store.InfoOutgoingCall {
		m.logger.Info("ignoring signaling for non-call message", zap.String("rfc724_mid", mid))
		return nil, nil
	}
	return root, nil
}

func (m *Manager) markEnded(root *store.Message) error {
	if root.Param.Exists(store.ParamCallEnded) {
		return nil
	}
	root.Param.SetInt64(store.ParamCallEnded, m.now().Unix())
	if err := m.db.UpdateMessageParam(root.ID, root.Param); err != nil {
		return fmt.Errorf("mark call ended: %w", err)
	}
	return nil
}

func (m *Manager) emitEnded(root *store.Message) {
	m.bus.Emit(bus.KindCallEnded, bus.CallEvent{ChatID: int64(root.ChatID), MsgID: int64(root.ID)})
}

// watch waits for the ring time and ends the call locally if it is still
// unanswered. Watchers are never cancelled; a late wake-up is a no-op.
func (m *Manager) watch(msgID store.MsgID, seconds int64) {
	m.sleep(time.Duration(seconds) * time.Second)
	if err := m.checkUnaccepted(context.Background(), msgID); err != nil {
		m.logger.Warn("call watcher failed", zap.Int64("msg_id", int64(msgID)), zap.Error(err))
	}
}

func (m *Manager) checkUnaccepted(ctx context.Context, msgID store.MsgID) error {
	msg, err := m.db.LoadMessageOptional(msgID)
	if err != nil || msg == nil || msg.ChatID == store.ChatTrash {
		return err
	}
	call, err := m.LoadCall(ctx, msgID)
	if err != nil {
		return err
	}
	if !timedOut(call) {
		return nil
	}
	if err := m.markEnded(call.Msg); err != nil {
		return err
	}
	m.logger.Info("call not accepted in time", zap.Int64("msg_id", int64(msgID)))
	m.emitEnded(call.Msg)
	return nil
}
