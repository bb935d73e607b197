package store

import (
	"database/sql"
	"fmt"
)

const msgColumns = `id, rfc724_mid, chat_id, from_id, to_id, timestamp, timestamp_sent, timestamp_rcvd,
	type, info_type, state, txt, param, hidden, download_state, ephemeral_timer, ephemeral_timestamp,
	mime_in_reply_to, mime_references, location_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	var param, refs string
	if err := s.Scan(&m.ID, &m.RFC724MID, &m.ChatID, &m.FromID, &m.ToID, &m.Timestamp, &m.TimestampSent, &m.TimestampRcvd,
		&m.Viewtype, &m.InfoType, &m.State, &m.Text, &param, &m.Hidden, &m.DownloadState, &m.EphemeralTimer, &m.EphemeralTimestamp,
		&m.InReplyTo, &refs, &m.LocationID); err != nil {
		return nil, err
	}
	m.Param = ParseParams(param)
	m.References = splitRefs(refs)
	return &m, nil
}

// InsertMessage inserts a new message row and sets m.ID.
func (db *DB) InsertMessage(m *Message) (MsgID, error) {
	if m.Param == nil {
		m.Param = Params{}
	}
	res, err := db.Exec(`
		INSERT INTO msgs (rfc724_mid, chat_id, from_id, to_id, timestamp, timestamp_sent, timestamp_rcvd,
			type, info_type, state, txt, param, hidden, download_state, ephemeral_timer, ephemeral_timestamp,
			mime_in_reply_to, mime_references, location_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RFC724MID, m.ChatID, m.FromID, m.ToID, m.Timestamp, m.TimestampSent, m.TimestampRcvd,
		m.Viewtype, m.InfoType, m.State, m.Text, m.Param.String(), m.Hidden, m.DownloadState, m.EphemeralTimer, m.EphemeralTimestamp,
		m.InReplyTo, joinRefs(m.References), m.LocationID)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = MsgID(id)
	return m.ID, nil
}

// ReplaceMessage overwrites the content of an existing row, keeping its id.
// Used when the full body of a partially downloaded message arrives.
func (db *DB) ReplaceMessage(id MsgID, m *Message) error {
	if m.Param == nil {
		m.Param = Params{}
	}
	_, err := db.Exec(`
		UPDATE msgs SET chat_id = ?, from_id = ?, to_id = ?, timestamp_sent = ?, type = ?, info_type = ?,
			txt = ?, param = ?, hidden = ?, download_state = ?, ephemeral_timer = ?, ephemeral_timestamp = ?,
			mime_in_reply_to = ?, mime_references = ?
		WHERE id = ?`,
		m.ChatID, m.FromID, m.ToID, m.TimestampSent, m.Viewtype, m.InfoType,
		m.Text, m.Param.String(), m.Hidden, m.DownloadState, m.EphemeralTimer, m.EphemeralTimestamp,
		m.InReplyTo, joinRefs(m.References), id)
	if err != nil {
		return fmt.Errorf("replace message %d: %w", id, err)
	}
	m.ID = id
	return nil
}

// LoadMessage returns the message with the given id or ErrMsgNotFound.
func (db *DB) LoadMessage(id MsgID) (*Message, error) {
	m, err := db.LoadMessageOptional(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("load message %d: %w", id, ErrMsgNotFound)
	}
	return m, nil
}

// LoadMessageOptional returns the message with the given id, or nil if it does not exist.
func (db *DB) LoadMessageOptional(id MsgID) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+msgColumns+` FROM msgs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load message %d: %w", id, err)
	}
	return m, nil
}

// LookupRFC724MID resolves a Message-ID to a local row, tombstones included.
// Returns a zero id when the Message-ID is unknown.
func (db *DB) LookupRFC724MID(mid string) (MsgID, ChatID, error) {
	if mid == "" {
		return 0, 0, nil
	}
	var id MsgID
	var chatID ChatID
	err := db.QueryRow(`SELECT id, chat_id FROM msgs WHERE rfc724_mid = ? ORDER BY id LIMIT 1`, mid).Scan(&id, &chatID)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return id, chatID, nil
}

// LiveMessageByRFC724MID returns the non-trashed message with the given
// Message-ID, or nil.
func (db *DB) LiveMessageByRFC724MID(mid string) (*Message, error) {
	if mid == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(`SELECT `+msgColumns+` FROM msgs WHERE rfc724_mid = ? AND chat_id != ? ORDER BY id LIMIT 1`, mid, ChatTrash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns visible messages of a chat, newest first.
func (db *DB) ListMessages(chatID ChatID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+msgColumns+` FROM msgs
		WHERE chat_id = ? AND hidden = 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpdateMessageParam persists the param side table of a message.
func (db *DB) UpdateMessageParam(id MsgID, p Params) error {
	_, err := db.Exec(`UPDATE msgs SET param = ? WHERE id = ?`, p.String(), id)
	return err
}

// UpdateMessageText replaces the text of a message.
func (db *DB) UpdateMessageText(id MsgID, text string) error {
	_, err := db.Exec(`UPDATE msgs SET txt = ? WHERE id = ?`, text, id)
	return err
}

// UpdateMessageState sets the delivery state of a message.
func (db *DB) UpdateMessageState(id MsgID, state MessageState) error {
	_, err := db.Exec(`UPDATE msgs SET state = ? WHERE id = ?`, state, id)
	return err
}

// UpdateDownloadState sets download_state and returns the number of rows touched.
func (db *DB) UpdateDownloadState(id MsgID, state int) (int64, error) {
	res, err := db.Exec(`UPDATE msgs SET download_state = ? WHERE id = ?`, state, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasChildWithInfo reports whether a live message replying to parentMID
// carries the given info type.
func (db *DB) HasChildWithInfo(parentMID string, info InfoType) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM msgs WHERE mime_in_reply_to = ? AND info_type = ? AND chat_id != ?`,
		parentMID, info, ChatTrash).Scan(&n)
	return n > 0, err
}

// TrashMessage tombstones a single message: its content is scrubbed and it
// moves to the trash chat, but the Message-ID stays known.
func (db *DB) TrashMessage(id MsgID) error {
	_, err := db.Exec(`
		UPDATE msgs SET chat_id = ?, txt = '', param = '', from_id = 0, to_id = 0, location_id = 0
		WHERE id = ?`, ChatTrash, id)
	return err
}

// LastMessageInChat returns the newest message of a chat that has a
// Message-ID, hidden ones included, or nil.
func (db *DB) LastMessageInChat(chatID ChatID) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+msgColumns+` FROM msgs
		WHERE chat_id = ? AND rfc724_mid != ''
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MaxOutgoingTimestamp returns the largest timestamp of our own messages.
func (db *DB) MaxOutgoingTimestamp() (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MAX(timestamp) FROM msgs WHERE from_id = ?`, ContactSelf).Scan(&ts)
	return ts.Int64, err
}

// MessageCount returns the number of visible messages outside the trash.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM msgs WHERE chat_id > ? AND hidden = 0`, ChatLastSpecial).Scan(&n)
	return n, err
}
