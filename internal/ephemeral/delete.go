package ephemeral

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// Download state of messages whose body is still on the server.
const downloadAvailable = 10

type expired struct {
	id         store.MsgID
	chatID     store.ChatID
	locationID int64
}

// DeleteExpiredMessages tombstones every live message whose ephemeral
// deadline is at or before now, and every message older than the device
// retention window. It returns the number of tombstoned messages.
func (s *Service) DeleteExpiredMessages(ctx context.Context, now int64) (int, error) {
	query := `SELECT id, chat_id, location_id FROM msgs
		WHERE chat_id != ? AND ((ephemeral_timestamp != 0 AND ephemeral_timestamp <= ?)`
	args := []any{store.ChatTrash, now}
	if dda := s.retention.DeleteDeviceAfter; dda != nil {
		query += ` OR (chat_id > ? AND timestamp < ?)`
		args = append(args, store.ChatLastSpecial, now-*dda)
	}
	query += `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query expired messages: %w", err)
	}
	var victims []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.chatID, &e.locationID); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, e)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range victims {
		if e.locationID != 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ? AND independent = 1`, e.locationID); err != nil {
				return 0, fmt.Errorf("delete location %d: %w", e.locationID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE msg_id = ?`, e.id); err != nil {
			return 0, fmt.Errorf("delete reactions of %d: %w", e.id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE msgs SET chat_id = ?, txt = '', param = '', from_id = 0, to_id = 0, location_id = 0
			WHERE id = ?`, store.ChatTrash, e.id); err != nil {
			return 0, fmt.Errorf("trash message %d: %w", e.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	chats := make(map[store.ChatID]struct{})
	for _, e := range victims {
		s.bus.Emit(bus.KindMsgDeleted, bus.MsgEvent{ChatID: int64(e.chatID), MsgID: int64(e.id)})
		chats[e.chatID] = struct{}{}
	}
	for chatID := range chats {
		s.bus.Emit(bus.KindMsgsChanged, bus.MsgEvent{ChatID: int64(chatID)})
	}
	s.logger.Info("deleted expired messages", zap.Int("count", len(victims)))
	return len(victims), nil
}

// serverThreshold returns the timestamp below which server copies are
// deleted regardless of ephemeral timers.
func (s *Service) serverThreshold(now int64) int64 {
	dsa := s.retention.DeleteServerAfter
	switch {
	case dsa == nil:
		return 0
	case *dsa == 0:
		return math.MaxInt64
	default:
		return now - *dsa
	}
}

// DeleteExpiredIMAPMessages marks server copies of expired messages for
// deletion by clearing their target folder. Messages that were never
// downloaded stay on the server for at least MinDeleteServerAfter unless the
// server retention window is shorter. It returns the number of marked records.
func (s *Service) DeleteExpiredIMAPMessages(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE imap SET target = ''
		WHERE target != '' AND rfc724_mid IN (
			SELECT rfc724_mid FROM msgs
			WHERE (ephemeral_timestamp != 0 AND ephemeral_timestamp <= ?
			       AND (download_state != ? OR timestamp < ?))
			   OR timestamp < ?
		)`,
		now, downloadAvailable, now-MinDeleteServerAfter, s.serverThreshold(now))
	if err != nil {
		return 0, fmt.Errorf("mark expired imap messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("marked server messages for deletion", zap.Int64("count", n))
	}
	return n, nil
}

// NextExpirationTimestamp returns the earliest ephemeral deadline among live
// messages. ok is false when nothing is scheduled.
func (s *Service) NextExpirationTimestamp(ctx context.Context) (ts int64, ok bool, err error) {
	var next sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(ephemeral_timestamp) FROM msgs
		WHERE ephemeral_timestamp != 0 AND chat_id != ?`, store.ChatTrash).Scan(&next)
	if err != nil {
		return 0, false, fmt.Errorf("next expiration: %w", err)
	}
	if !next.Valid {
		return 0, false, nil
	}
	return next.Int64, true, nil
}
