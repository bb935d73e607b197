// Package download drives the full download of messages that were only
// fetched partially because they exceeded the download limit.
package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// MinDownloadLimit is the smallest accepted download limit. Smaller limits
// would leave protocol messages such as group changes undownloaded.
const MinDownloadLimit uint32 = 160 * 1024

// State is the persisted download state of a message.
type State int

const (
	Done           State = 0
	Available      State = 10
	Failure        State = 20
	Undecipherable State = 30
	InProgress     State = 1000
)

func (s State) String() string {
	switch s {
	case Done:
		return "done"
	case Available:
		return "available"
	case Failure:
		return "failure"
	case Undecipherable:
		return "undecipherable"
	case InProgress:
		return "in_progress"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsTerminal reports whether no further download can be attempted.
func (s State) IsTerminal() bool { return s == Done || s == Undecipherable }

// CanStart reports whether a full download may be requested.
func (s State) CanStart() bool { return s == Available || s == Failure }

var (
	ErrNothingToDownload = errors.New("nothing to download")
	ErrInProgress        = errors.New("download already in progress")
	ErrNoServerLocation  = errors.New("message is no longer on the server, call download_full() again to try over")
)

// EffectiveLimit returns the download limit to apply. 0 means unlimited.
func EffectiveLimit(configured uint32) uint32 {
	if configured == 0 {
		return 0
	}
	return max(configured, MinDownloadLimit)
}

// Interrupter wakes the IMAP session.
type Interrupter interface {
	InterruptInbox()
}

// Fetcher downloads a single message by its server coordinates.
type Fetcher interface {
	FetchSingleMsg(ctx context.Context, folder string, uidvalidity, uid uint32, rfc724MID string) error
}

// Service schedules and performs full downloads.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	imap   Interrupter
	logger *zap.Logger
}

// NewService creates a download service. imap may be nil.
func NewService(db *store.DB, b *bus.Bus, imap Interrupter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, bus: b, imap: imap, logger: logger}
}

// SetInterrupter sets the IMAP session woken by DownloadFull.
func (s *Service) SetInterrupter(imap Interrupter) { s.imap = imap }

// DownloadFull schedules the full download of a partially downloaded message
// and wakes the IMAP session.
func (s *Service) DownloadFull(ctx context.Context, msgID store.MsgID) error {
	m, err := s.db.LoadMessage(msgID)
	if err != nil {
		return err
	}
	switch state := State(m.DownloadState); {
	case state.IsTerminal():
		return ErrNothingToDownload
	case state == InProgress:
		return ErrInProgress
	case !state.CanStart():
		return fmt.Errorf("download %d: unexpected state %s", msgID, state)
	}

	if err := s.UpdateDownloadState(ctx, msgID, InProgress); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO download (msg_id) VALUES (?)`, msgID); err != nil {
		return fmt.Errorf("queue download: %w", err)
	}
	s.logger.Info("full download scheduled", zap.Int64("msg_id", int64(msgID)))
	if s.imap != nil {
		s.imap.InterruptInbox()
	}
	return nil
}

// UpdateDownloadState sets the state of a message. A message that no longer
// exists is not an error.
func (s *Service) UpdateDownloadState(_ context.Context, msgID store.MsgID, state State) error {
	m, err := s.db.LoadMessageOptional(msgID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	n, err := s.db.UpdateDownloadState(msgID, int(state))
	if err != nil {
		return fmt.Errorf("update download state: %w", err)
	}
	if n > 0 {
		s.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(m.ChatID), MsgID: int64(msgID)})
	}
	return nil
}

// DownloadMsg fetches the full body of a message from the server. A message
// deleted locally in the meantime is skipped.
func (s *Service) DownloadMsg(ctx context.Context, msgID store.MsgID, f Fetcher) error {
	m, err := s.db.LoadMessageOptional(msgID)
	if err != nil {
		return err
	}
	if m == nil {
		s.logger.Debug("download target vanished", zap.Int64("msg_id", int64(msgID)))
		return nil
	}
	loc, err := s.db.IMAPLocationByRFC724MID(m.RFC724MID)
	if err != nil {
		return fmt.Errorf("lookup server location: %w", err)
	}
	if loc == nil {
		return ErrNoServerLocation
	}
	if err := f.FetchSingleMsg(ctx, loc.Folder, loc.UIDValidity, loc.UID, m.RFC724MID); err != nil {
		return fmt.Errorf("fetch %s: %w", m.RFC724MID, err)
	}
	return nil
}

// QueuedDownloads returns the ids of messages waiting for a full download.
func (s *Service) QueuedDownloads(ctx context.Context) ([]store.MsgID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT msg_id FROM download ORDER BY msg_id`)
	if err != nil {
		return nil, fmt.Errorf("query download queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []store.MsgID
	for rows.Next() {
		var id store.MsgID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ProcessQueue downloads every queued message. Failed downloads are marked
// Failure so the user can retry; every job leaves the queue.
func (s *Service) ProcessQueue(ctx context.Context, f Fetcher) error {
	ids, err := s.QueuedDownloads(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.DownloadMsg(ctx, id, f); err != nil {
			s.logger.Warn("download failed", zap.Int64("msg_id", int64(id)), zap.Error(err))
			if err := s.UpdateDownloadState(ctx, id, Failure); err != nil {
				s.logger.Error("failed to mark download failure", zap.Int64("msg_id", int64(id)), zap.Error(err))
			}
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM download WHERE msg_id = ?`, id); err != nil {
			return fmt.Errorf("dequeue download %d: %w", id, err)
		}
	}
	return nil
}
