// Package receive turns fetched emails into chat messages and routes them to
// the reaction, call, timer and sync handlers.
package receive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/ephemeral"
	"github.com/matheus3301/chatmail/internal/store"
	"github.com/matheus3301/chatmail/internal/syncitems"
	"github.com/matheus3301/chatmail/internal/wire"
	"go.uber.org/zap"
)

// ReactionReceiver stores reactions of contacts.
type ReactionReceiver interface {
	ReceiveReaction(ctx context.Context, inReplyTo string, contactID store.ContactID, raw string) error
}

// CallHandler reacts to stored call messages and rejection syncs.
type CallHandler interface {
	HandleIncoming(ctx context.Context, msgID store.MsgID) error
	HandleRejectSync(ctx context.Context, rootMID string) error
}

// TimerApplier adopts received chat timers.
type TimerApplier interface {
	ApplyReceived(ctx context.Context, chatID store.ChatID, in ephemeral.Incoming) (bool, error)
}

// Scheduler is woken when a new ephemeral deadline exists.
type Scheduler interface {
	Interrupt()
}

// Engine handles idempotent ingestion of fetched messages into the store.
type Engine struct {
	db        *store.DB
	bus       *bus.Bus
	reactions ReactionReceiver
	calls     CallHandler
	timers    TimerApplier
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a new receive engine. Handlers may be nil.
func NewEngine(db *store.DB, b *bus.Bus, reactions ReactionReceiver, calls CallHandler, timers TimerApplier, scheduler Scheduler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:        db,
		bus:       b,
		reactions: reactions,
		calls:     calls,
		timers:    timers,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Receive ingests one fetched message. Receiving the same Message-ID twice
// is a no-op, except that a full download replaces its partial placeholder.
func (e *Engine) Receive(ctx context.Context, in *bus.IMAPMessage) error {
	var p *wire.Parsed
	var err error
	if in.Partial {
		p, err = wire.ParseHeaderOnly(in.Raw)
	} else {
		p, err = wire.Parse(bytes.NewReader(in.Raw))
	}
	if err != nil {
		return fmt.Errorf("parse uid %d: %w", in.UID, err)
	}

	if err := e.db.UpsertIMAPRecord(p.MessageID, in.Folder, in.Folder, in.UID, in.UIDValidity); err != nil {
		return fmt.Errorf("record imap location: %w", err)
	}

	replaceID, skip, err := e.dedup(p, in.Partial)
	if err != nil || skip {
		return err
	}

	selfAddr, err := e.db.SelfAddr()
	if err != nil {
		return err
	}
	fromSelf := p.FromAddr == selfAddr

	switch {
	case p.SystemMessage == wire.MultiDeviceSync:
		return e.receiveSync(ctx, p, fromSelf)
	case p.IsReaction:
		return e.receiveReaction(ctx, p, fromSelf)
	}
	return e.receiveMessage(ctx, p, in, fromSelf, replaceID)
}

// dedup returns the placeholder to replace, or skip when the Message-ID is
// already known.
func (e *Engine) dedup(p *wire.Parsed, partial bool) (store.MsgID, bool, error) {
	id, chatID, err := e.db.LookupRFC724MID(p.MessageID)
	if err != nil {
		return 0, false, err
	}
	if id == 0 {
		return 0, false, nil
	}
	if chatID == store.ChatTrash || partial {
		e.logger.Debug("skipping known message", zap.String("rfc724_mid", p.MessageID))
		return 0, true, nil
	}
	m, err := e.db.LoadMessage(id)
	if err != nil {
		return 0, false, err
	}
	if download.State(m.DownloadState) == download.Done {
		e.logger.Debug("skipping known message", zap.String("rfc724_mid", p.MessageID))
		return 0, true, nil
	}
	return id, false, nil
}

func (e *Engine) receiveSync(ctx context.Context, p *wire.Parsed, fromSelf bool) error {
	if err := e.tombstone(p, store.InfoMultiDeviceSync); err != nil {
		return err
	}
	if !fromSelf {
		e.logger.Warn("ignoring sync message from foreign address", zap.String("from", p.FromAddr))
		return nil
	}
	items, err := syncitems.Decode(p.Text)
	if err != nil {
		return err
	}
	for _, item := range items {
		switch d := item.Data.(type) {
		case syncitems.RejectIncomingCall:
			if e.calls == nil {
				continue
			}
			if err := e.calls.HandleRejectSync(ctx, d.Msg); err != nil {
				e.logger.Warn("failed to apply call rejection", zap.Error(err), zap.String("rfc724_mid", d.Msg))
			}
		}
	}
	return nil
}

func (e *Engine) receiveReaction(ctx context.Context, p *wire.Parsed, fromSelf bool) error {
	if err := e.tombstone(p, store.InfoNone); err != nil {
		return err
	}
	if e.reactions == nil {
		return nil
	}
	contactID := store.ContactSelf
	if !fromSelf {
		id, err := e.db.LookupOrCreateContact(p.FromAddr, p.FromName)
		if err != nil {
			return err
		}
		contactID = id
	}
	return e.reactions.ReceiveReaction(ctx, p.InReplyTo, contactID, p.Text)
}

// sentAt is the Date header, or now for messages without a usable one.
func sentAt(p *wire.Parsed, now int64) int64 {
	if p.Date.IsZero() {
		return now
	}
	return p.Date.Unix()
}

// tombstone stores only the Message-ID so the message is never imported again.
func (e *Engine) tombstone(p *wire.Parsed, info store.InfoType) error {
	now := e.now().Unix()
	_, err := e.db.InsertMessage(&store.Message{
		RFC724MID:     p.MessageID,
		ChatID:        store.ChatTrash,
		Timestamp:     now,
		TimestampSent: sentAt(p, now),
		TimestampRcvd: now,
		InfoType:      info,
		Hidden:        true,
	})
	return err
}

func (e *Engine) receiveMessage(ctx context.Context, p *wire.Parsed, in *bus.IMAPMessage, fromSelf bool, replaceID store.MsgID) error {
	fromID := store.ContactSelf
	if !fromSelf {
		id, err := e.db.LookupOrCreateContact(p.FromAddr, p.FromName)
		if err != nil {
			return err
		}
		fromID = id
	}
	chatID, toID, err := e.assignChat(p, fromID, fromSelf)
	if err != nil {
		return err
	}

	now := e.now().Unix()
	sent := sentAt(p, now)

	timer := ephemeral.FromU32(p.EphemeralTimer)
	if e.timers != nil {
		if _, err := e.timers.ApplyReceived(ctx, chatID, ephemeral.Incoming{
			MessageID:     p.MessageID,
			Timer:         timer,
			TimestampSent: sent,
			InReplyTo:     p.InReplyTo,
			References:    p.References,
			Explicit:      p.SystemMessage == wire.EphemeralTimerChanged,
		}); err != nil {
			return fmt.Errorf("apply timer: %w", err)
		}
	}

	msg := &store.Message{
		RFC724MID:      p.MessageID,
		ChatID:         chatID,
		FromID:         fromID,
		ToID:           toID,
		Timestamp:      min(sent, now),
		TimestampSent:  sent,
		TimestampRcvd:  now,
		Viewtype:       store.ViewtypeText,
		InfoType:       p.SystemMessage.InfoType(fromSelf),
		State:          store.StateInFresh,
		Text:           p.Text,
		Param:          store.Params{},
		InReplyTo:      p.InReplyTo,
		References:     p.References,
		EphemeralTimer: timer.ToU32(),
	}
	if fromSelf {
		msg.State = store.StateOutDelivered
	}
	switch msg.InfoType {
	case store.InfoIncomingCall, store.InfoOutgoingCall:
		msg.Viewtype = store.ViewtypeCall
		msg.Param.Set(store.ParamPlaceCallInfo, p.PlaceCallInfo)
	case store.InfoCallAccepted:
		msg.Hidden = true
		msg.Param.Set(store.ParamQuote, p.InReplyTo)
		msg.Param.Set(store.ParamAcceptCallInfo, p.AcceptCallInfo)
	case store.InfoCallEnded:
		msg.Hidden = true
		msg.Param.Set(store.ParamQuote, p.InReplyTo)
	}
	if in.Partial {
		msg.DownloadState = int(download.Available)
		msg.Text = fmt.Sprintf("[%d KiB message]", (in.Size+1023)/1024)
	}
	if !msg.Hidden {
		msg.EphemeralTimestamp = timer.Stamp(now)
	}

	var id store.MsgID
	if replaceID != 0 {
		if err := e.db.ReplaceMessage(replaceID, msg); err != nil {
			return err
		}
		id = replaceID
	} else {
		if id, err = e.db.InsertMessage(msg); err != nil {
			return err
		}
	}
	e.logger.Debug("message received",
		zap.Int64("msg_id", int64(id)),
		zap.Int64("chat_id", int64(chatID)),
		zap.String("rfc724_mid", p.MessageID),
		zap.Bool("partial", in.Partial))

	if msg.EphemeralTimestamp != 0 && e.scheduler != nil {
		e.scheduler.Interrupt()
	}

	if msg.InfoType != store.InfoNone && p.SystemMessage.IsCall() && e.calls != nil {
		if err := e.calls.HandleIncoming(ctx, id); err != nil {
			e.logger.Warn("failed to handle call message", zap.Error(err), zap.Int64("msg_id", int64(id)))
		}
	}

	switch {
	case msg.Hidden:
	case replaceID != 0 || fromSelf:
		e.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(chatID), MsgID: int64(id)})
	default:
		e.bus.Emit(bus.KindIncomingMsg, bus.MsgEvent{ChatID: int64(chatID), MsgID: int64(id)})
	}
	return nil
}

// assignChat picks the chat of the parent message when the sender belongs
// to it, then the one-to-one chat with the peer. Unknown peers get a
// contact request.
func (e *Engine) assignChat(p *wire.Parsed, fromID store.ContactID, fromSelf bool) (store.ChatID, store.ContactID, error) {
	peer := fromID
	if fromSelf {
		peer = 0
		for _, addr := range p.To {
			if addr == p.FromAddr {
				continue
			}
			id, err := e.db.LookupOrCreateContact(addr, "")
			if err != nil {
				return 0, 0, err
			}
			peer = id
			break
		}
	}

	if parent, err := e.db.LiveMessageByRFC724MID(p.InReplyTo); err != nil {
		return 0, 0, err
	} else if parent != nil && !parent.ChatID.IsSpecial() {
		member := fromSelf
		if !member {
			if member, err = e.db.IsChatMember(parent.ChatID, fromID); err != nil {
				return 0, 0, err
			}
		}
		if member {
			return parent.ChatID, e.toID(peer, fromSelf), nil
		}
	}

	if peer == 0 {
		return 0, 0, fmt.Errorf("assign chat for %s: no peer address", p.MessageID)
	}
	chatID, err := e.db.ChatByContact(peer)
	if err != nil {
		return 0, 0, err
	}
	if chatID == 0 {
		blocked := store.ChatRequest
		if fromSelf {
			blocked = store.ChatNotBlocked
		}
		name := p.FromName
		if fromSelf || name == "" {
			c, err := e.db.GetContact(peer)
			if err != nil {
				return 0, 0, err
			}
			name = c.Addr
			if c.Name != "" {
				name = c.Name
			}
		}
		if chatID, err = e.db.CreateChat(name, blocked, peer); err != nil {
			return 0, 0, err
		}
		e.logger.Info("chat created", zap.Int64("chat_id", int64(chatID)), zap.Bool("contact_request", blocked == store.ChatRequest))
	}
	return chatID, e.toID(peer, fromSelf), nil
}

func (e *Engine) toID(peer store.ContactID, fromSelf bool) store.ContactID {
	if fromSelf {
		return peer
	}
	return store.ContactSelf
}
