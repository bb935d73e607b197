// Package imapsession keeps one IMAP connection per account: it fetches new
// mail, performs queued full downloads and expunges messages marked for
// deletion.
package imapsession

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/status"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

const (
	configUIDValidity = "imap_uidvalidity"
	configLastUID     = "imap_last_uid"

	maxBackoff = 5 * time.Minute
)

// ErrUIDValidityChanged is returned when a stored server location is stale.
var ErrUIDValidityChanged = errors.New("uidvalidity changed")

// Receiver ingests one fetched message.
type Receiver interface {
	Receive(ctx context.Context, msg *bus.IMAPMessage) error
}

// Downloads is the queue of requested full downloads.
type Downloads interface {
	ProcessQueue(ctx context.Context, f download.Fetcher) error
}

// Options tunes the session loop.
type Options struct {
	Folder        string
	PollInterval  time.Duration
	DownloadLimit uint32
}

// Session owns the IMAP connection of an account. All mailbox access is
// serialized.
type Session struct {
	dial      Dialer
	opts      Options
	db        *store.DB
	bus       *bus.Bus
	recv      Receiver
	downloads Downloads
	status    *status.Machine
	logger    *zap.Logger

	mu      sync.Mutex
	mailbox Mailbox

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session. downloads may be nil.
func New(dial Dialer, opts Options, db *store.DB, b *bus.Bus, recv Receiver, downloads Downloads, st *status.Machine, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = status.NewMachine(b)
	}
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	return &Session{
		dial:      dial,
		opts:      opts,
		db:        db,
		bus:       b,
		recv:      recv,
		downloads: downloads,
		status:    st,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Status returns the connectivity state machine.
func (s *Session) Status() *status.Machine { return s.status }

// InterruptInbox wakes the session so it fetches, downloads and expunges
// without waiting for the next poll.
func (s *Session) InterruptInbox() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the fetch loop until Stop.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop ends the loop and closes the connection.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.mu.Lock()
	s.disconnectLocked()
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	backoff := time.Second
	for {
		wait := s.opts.PollInterval
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("imap cycle failed", zap.Error(err), zap.Duration("retry_in", backoff))
			wait = backoff
			backoff = min(backoff*2, maxBackoff)
		} else {
			backoff = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cycle connects if needed, then fetches new mail, runs queued downloads
// and expunges marked messages.
func (s *Session) Cycle(ctx context.Context) error {
	if err := s.FetchNew(ctx); err != nil {
		return err
	}
	if s.downloads != nil {
		if err := s.downloads.ProcessQueue(ctx, s); err != nil {
			s.logger.Warn("download queue failed", zap.Error(err))
		}
	}
	if _, err := s.DeleteMarked(ctx); err != nil {
		return err
	}
	return nil
}

// connectLocked returns a live mailbox with the folder selected. Caller
// must hold s.mu.
func (s *Session) connectLocked(ctx context.Context) (Mailbox, uint32, error) {
	fresh := s.mailbox == nil
	if fresh {
		s.setStatus(status.Connecting)
		mb, err := s.dial(ctx)
		if err != nil {
			s.setStatus(status.NotConnected)
			return nil, 0, err
		}
		s.mailbox = mb
		s.logger.Info("imap connected", zap.String("folder", s.opts.Folder))
	}
	uidvalidity, err := s.mailbox.Select(ctx, s.opts.Folder)
	if err != nil {
		s.disconnectLocked()
		return nil, 0, err
	}
	if fresh {
		s.setStatus(status.Idle)
	}
	return s.mailbox, uidvalidity, nil
}

func (s *Session) setStatus(to status.State) {
	if err := s.status.Transition(to); err != nil {
		s.logger.Warn("connectivity not updated", zap.Error(err))
	}
}

func (s *Session) disconnectLocked() {
	if s.mailbox == nil {
		return
	}
	_ = s.mailbox.Close()
	s.mailbox = nil
	s.setStatus(status.NotConnected)
}

// FetchNew fetches every message above the last seen UID. Messages larger
// than the download limit are fetched header-only.
func (s *Session) FetchNew(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, uidvalidity, err := s.connectLocked(ctx)
	if err != nil {
		return err
	}
	s.setStatus(status.Fetching)
	defer func() {
		if s.mailbox != nil {
			s.setStatus(status.Idle)
		}
	}()

	lastUID, err := s.lastSeen(uidvalidity)
	if err != nil {
		return err
	}
	list, err := mb.ListSince(ctx, lastUID)
	if err != nil {
		s.disconnectLocked()
		return err
	}

	limit := download.EffectiveLimit(s.opts.DownloadLimit)
	for _, sum := range list {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		partial := limit > 0 && sum.Size > limit
		raw, err := mb.Fetch(ctx, sum.UID, partial)
		if err != nil {
			s.disconnectLocked()
			return err
		}
		msg := &bus.IMAPMessage{
			Folder:      s.opts.Folder,
			UID:         sum.UID,
			UIDValidity: uidvalidity,
			Size:        sum.Size,
			Partial:     partial,
			Raw:         raw,
		}
		if err := s.recv.Receive(ctx, msg); err != nil {
			// A message we cannot parse must not block the ones after it.
			s.logger.Warn("failed to receive message", zap.Error(err), zap.Uint32("uid", sum.UID))
		}
		if err := s.db.SetConfig(configLastUID, strconv.FormatUint(uint64(sum.UID), 10)); err != nil {
			return err
		}
		s.publish(msg)
	}
	if len(list) > 0 {
		s.logger.Info("fetched messages", zap.Int("count", len(list)), zap.Uint32("last_uid", list[len(list)-1].UID))
	}
	return nil
}

// lastSeen returns the last processed UID, resetting it when the server
// changed UIDVALIDITY.
func (s *Session) lastSeen(uidvalidity uint32) (uint32, error) {
	stored, err := s.db.GetConfigUint32(configUIDValidity)
	if err != nil {
		return 0, err
	}
	if stored != uidvalidity {
		if stored != 0 {
			s.logger.Warn("uidvalidity changed, refetching folder",
				zap.Uint32("old", stored), zap.Uint32("new", uidvalidity))
		}
		if err := s.db.SetConfig(configUIDValidity, strconv.FormatUint(uint64(uidvalidity), 10)); err != nil {
			return 0, err
		}
		if err := s.db.SetConfig(configLastUID, "0"); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return s.db.GetConfigUint32(configLastUID)
}

// FetchSingleMsg fetches one message in full and hands it to the receiver,
// which replaces the partial placeholder.
func (s *Session) FetchSingleMsg(ctx context.Context, folder string, uidvalidity, uid uint32, rfc724MID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if folder != s.opts.Folder {
		return fmt.Errorf("fetch %s: folder %q is not watched", rfc724MID, folder)
	}
	mb, current, err := s.connectLocked(ctx)
	if err != nil {
		return err
	}
	if current != uidvalidity {
		return fmt.Errorf("fetch %s: %w", rfc724MID, ErrUIDValidityChanged)
	}
	raw, err := mb.Fetch(ctx, uid, false)
	if err != nil {
		return err
	}
	msg := &bus.IMAPMessage{
		Folder:      folder,
		UID:         uid,
		UIDValidity: uidvalidity,
		Size:        uint32(len(raw)),
		Raw:         raw,
	}
	if err := s.recv.Receive(ctx, msg); err != nil {
		return fmt.Errorf("receive %s: %w", rfc724MID, err)
	}
	s.logger.Info("message downloaded", zap.String("rfc724_mid", rfc724MID), zap.Uint32("uid", uid))
	s.publish(msg)
	return nil
}

// DeleteMarked expunges messages whose IMAP row lost its target.
func (s *Session) DeleteMarked(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, uidvalidity, err := s.connectLocked(ctx)
	if err != nil {
		return 0, err
	}
	uids, err := s.db.IMAPMarkedForDeletion(s.opts.Folder, uidvalidity)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}
	if err := mb.Delete(ctx, uids); err != nil {
		s.disconnectLocked()
		return 0, err
	}
	if err := s.db.DeleteIMAPRecords(s.opts.Folder, uidvalidity, uids); err != nil {
		return 0, err
	}
	s.logger.Info("deleted messages from server", zap.Int("count", len(uids)))
	return len(uids), nil
}

func (s *Session) publish(msg *bus.IMAPMessage) {
	evt := *msg
	evt.Raw = nil
	s.bus.Emit(bus.KindIMAPMessage, evt)
}
