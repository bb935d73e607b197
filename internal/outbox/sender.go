package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/ephemeral"
	"github.com/matheus3301/chatmail/internal/store"
	"github.com/matheus3301/chatmail/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MaxRetries is the number of failed SMTP attempts after which a
	// message is marked failed.
	MaxRetries = 5

	pollInterval = 500 * time.Millisecond

	// Providers throttle bursts; at most sendBurst messages go out at once,
	// then one per sendInterval.
	sendBurst    = 6
	sendInterval = 10 * time.Second

	// maxReferences caps the References header to the most recent ancestors.
	maxReferences = 5
)

// Transport delivers one rendered message.
type Transport interface {
	Send(ctx context.Context, from string, recipients []string, msg []byte) error
}

// Scheduler is woken when a sent message gets an ephemeral deadline.
type Scheduler interface {
	Interrupt()
}

// Identity is the account the sender writes as.
type Identity struct {
	Addr        string
	DisplayName string
	Domain      string
	BccSelf     bool
}

// Sender turns chat messages into queued MIME and drains the queue over SMTP.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	ident     Identity
	logger    *zap.Logger
	now       func() time.Time
	limiter   *rate.Limiter
	scheduler Scheduler

	mu     sync.Mutex
	lastTS int64

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, transport Transport, b *bus.Bus, ident Identity, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ident.Domain == "" {
		ident.Domain = "localhost"
	}
	return &Sender{
		db:        db,
		transport: transport,
		bus:       b,
		ident:     ident,
		logger:    logger,
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Every(sendInterval), sendBurst),
		wake:      make(chan struct{}, 1),
	}
}

// SetScheduler sets the deletion loop to wake for new deadlines. It must be
// called before the first send.
func (s *Sender) SetScheduler(sch Scheduler) { s.scheduler = sch }

// SendMsg stores msg as an outgoing message of chatID and queues it for
// delivery to the chat members. The caller sets content fields; the sender
// fills in ids, timestamps, threading and the ephemeral deadline.
func (s *Sender) SendMsg(ctx context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error) {
	if chatID.IsSpecial() {
		return 0, fmt.Errorf("send message: chat %d is special", chatID)
	}
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return 0, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return 0, fmt.Errorf("send message: chat %d not found", chatID)
	}

	members, err := s.db.ChatContacts(chatID)
	if err != nil {
		return 0, fmt.Errorf("chat members: %w", err)
	}
	var to []string
	for _, id := range members {
		c, err := s.db.GetContact(id)
		if err != nil {
			return 0, err
		}
		if c != nil {
			to = append(to, c.Addr)
		}
	}
	recipients := append([]string(nil), to...)
	if s.ident.BccSelf || len(recipients) == 0 {
		recipients = append(recipients, s.ident.Addr)
	}

	timer, err := ephemeral.ChatTimer(s.db, chatID)
	if err != nil {
		return 0, err
	}

	if msg.InReplyTo == "" {
		last, err := s.db.LastMessageInChat(chatID)
		if err != nil {
			return 0, fmt.Errorf("thread: %w", err)
		}
		if last != nil {
			msg.InReplyTo = last.RFC724MID
			refs := append(append([]string(nil), last.References...), last.RFC724MID)
			msg.References = refs[max(0, len(refs)-maxReferences):]
		}
	}

	ts := s.smearedTimestamp()
	msg.ChatID = chatID
	msg.FromID = store.ContactSelf
	if len(members) > 0 {
		msg.ToID = members[0]
	}
	msg.Timestamp, msg.TimestampSent = ts, ts
	msg.State = store.StateOutPending
	msg.RFC724MID = s.newMessageID()
	msg.EphemeralTimer = timer.ToU32()
	if !msg.Hidden {
		msg.EphemeralTimestamp = timer.Stamp(ts)
	}

	id, err := s.queue(ctx, msg, to, recipients)
	if err != nil {
		return 0, err
	}
	if msg.EphemeralTimestamp != 0 && s.scheduler != nil {
		s.scheduler.Interrupt()
	}
	return id, nil
}

// SendSelf sends msg to our own address only. The local copy is a
// tombstone so the echo from the server is recognised and dropped.
func (s *Sender) SendSelf(ctx context.Context, msg *store.Message) (store.MsgID, error) {
	ts := s.smearedTimestamp()
	msg.ChatID = store.ChatTrash
	msg.FromID = store.ContactSelf
	msg.ToID = store.ContactSelf
	msg.Timestamp, msg.TimestampSent = ts, ts
	msg.State = store.StateOutPending
	msg.RFC724MID = s.newMessageID()
	return s.queue(ctx, msg, []string{s.ident.Addr}, []string{s.ident.Addr})
}

func (s *Sender) queue(_ context.Context, msg *store.Message, to, recipients []string) (store.MsgID, error) {
	// Render before clearing the trash copy's body.
	out := &wire.Outgoing{
		FromAddr:       s.ident.Addr,
		FromName:       s.ident.DisplayName,
		To:             to,
		MessageID:      msg.RFC724MID,
		Date:           time.Unix(msg.TimestampSent, 0),
		Text:           msg.Text,
		SystemMessage:  wire.FromInfoType(msg.InfoType),
		EphemeralTimer: msg.EphemeralTimer,
		Reaction:       msg.Param.Exists(store.ParamReaction),
		InReplyTo:      msg.InReplyTo,
		References:     msg.References,
		PlaceCallInfo:  msg.Param.Get(store.ParamPlaceCallInfo),
		AcceptCallInfo: msg.Param.Get(store.ParamAcceptCallInfo),
	}
	mime, err := wire.Compose(out)
	if err != nil {
		return 0, err
	}

	if msg.ChatID == store.ChatTrash {
		msg.Text = ""
		msg.Param = store.Params{}
	}
	id, err := s.db.InsertMessage(msg)
	if err != nil {
		return 0, err
	}
	if err := s.db.QueueSMTP(msg.RFC724MID, recipients, mime, id); err != nil {
		return id, fmt.Errorf("queue smtp: %w", err)
	}
	s.logger.Debug("message queued",
		zap.Int64("msg_id", int64(id)),
		zap.String("rfc724_mid", msg.RFC724MID),
		zap.Int("recipients", len(recipients)))

	s.Interrupt()
	if msg.ChatID != store.ChatTrash {
		s.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(msg.ChatID), MsgID: int64(id)})
	}
	return id, nil
}

// smearedTimestamp returns a strictly increasing send time. It may run
// ahead of the clock, but never more than ephemeral.MaxSecondsToLendFromFuture.
func (s *Sender) smearedTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().Unix()
	if s.lastTS == 0 {
		if ts, err := s.db.MaxOutgoingTimestamp(); err == nil {
			s.lastTS = ts
		}
	}
	ts := max(now, s.lastTS+1)
	ts = min(ts, now+ephemeral.MaxSecondsToLendFromFuture)
	s.lastTS = max(s.lastTS, ts)
	return ts
}

func (s *Sender) newMessageID() string {
	return uuid.NewString() + "@" + s.ident.Domain
}

// Interrupt wakes the delivery loop.
func (s *Sender) Interrupt() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins polling the queue for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-s.wake:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending attempts every queued job once.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingSMTP(MaxRetries)
	if err != nil {
		s.logger.Error("failed to read smtp queue", zap.Error(err))
		return
	}

	for _, job := range pending {
		if ctx.Err() != nil {
			return
		}
		if !s.limiter.Allow() {
			s.logger.Debug("send rate limited", zap.Int("pending", len(pending)))
			return
		}
		err := s.transport.Send(ctx, s.ident.Addr, job.Recipients, job.MIME)
		if err != nil {
			s.handleFailure(job, err)
			continue
		}

		if err := s.db.DeleteSMTP(job.ID); err != nil {
			s.logger.Error("failed to dequeue job", zap.Error(err), zap.Int64("job_id", job.ID))
		}
		if job.MsgID != 0 {
			if err := s.db.UpdateMessageState(job.MsgID, store.StateOutDelivered); err != nil {
				s.logger.Error("failed to mark delivered", zap.Error(err), zap.Int64("msg_id", int64(job.MsgID)))
			}
		}
		s.logger.Info("message sent", zap.String("rfc724_mid", job.RFC724MID), zap.Int64("msg_id", int64(job.MsgID)))
		s.emitChanged(job.MsgID)
	}
}

func (s *Sender) handleFailure(job store.SMTPJob, sendErr error) {
	retries, err := s.db.MarkSMTPFailed(job.ID, sendErr.Error())
	if err != nil {
		s.logger.Error("failed to record send failure", zap.Error(errors.Join(sendErr, err)), zap.Int64("job_id", job.ID))
		return
	}
	s.logger.Warn("failed to send message",
		zap.Error(sendErr),
		zap.String("rfc724_mid", job.RFC724MID),
		zap.Int("retries", retries))
	if retries < MaxRetries || job.MsgID == 0 {
		return
	}

	if err := s.db.UpdateMessageState(job.MsgID, store.StateOutFailed); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.Int64("msg_id", int64(job.MsgID)))
	}
	m, err := s.db.LoadMessageOptional(job.MsgID)
	if err != nil || m == nil {
		return
	}
	s.bus.Emit(bus.KindMsgSendFailed, bus.MsgEvent{ChatID: int64(m.ChatID), MsgID: int64(m.ID)})
}

func (s *Sender) emitChanged(id store.MsgID) {
	if id == 0 {
		return
	}
	m, err := s.db.LoadMessageOptional(id)
	if err != nil || m == nil || m.ChatID.IsSpecial() {
		return
	}
	s.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(m.ChatID), MsgID: int64(m.ID)})
}
