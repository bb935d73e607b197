package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateChat inserts a chat with the given members (SELF is implicit).
func (db *DB) CreateChat(name string, blocked int, members ...ContactID) (ChatID, error) {
	var id int64
	err := db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO chats (name, blocked, created_at) VALUES (?, ?, ?)`,
			name, blocked, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, c := range members {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, id, c); err != nil {
				return fmt.Errorf("add member %d: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ChatID(id), nil
}

// GetChat returns a single chat by id, or nil if it does not exist.
func (db *DB) GetChat(id ChatID) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, name, blocked, ephemeral_timer, ephemeral_change_mid, ephemeral_change_ts, created_at
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Blocked, &c.EphemeralTimer, &c.EphemeralChangeMID, &c.EphemeralChangeTS, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns non-special chats, newest activity first.
func (db *DB) ListChats(limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.name, c.blocked, c.ephemeral_timer, c.ephemeral_change_mid, c.ephemeral_change_ts, c.created_at
		FROM chats c
		LEFT JOIN msgs m ON m.chat_id = c.id
		WHERE c.id > ?
		GROUP BY c.id
		ORDER BY MAX(COALESCE(m.timestamp, c.created_at)) DESC
		LIMIT ?`, ChatLastSpecial, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Blocked, &c.EphemeralTimer, &c.EphemeralChangeMID, &c.EphemeralChangeTS, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatContacts returns the members of a chat, excluding SELF.
func (db *DB) ChatContacts(id ChatID) ([]ContactID, error) {
	rows, err := db.Query(`SELECT contact_id FROM chats_contacts WHERE chat_id = ? AND contact_id != ? ORDER BY contact_id`, id, ContactSelf)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []ContactID
	for rows.Next() {
		var c ContactID
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		ids = append(ids, c)
	}
	return ids, rows.Err()
}

// IsChatMember reports whether the contact belongs to the chat.
func (db *DB) IsChatMember(chatID ChatID, contactID ContactID) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats_contacts WHERE chat_id = ? AND contact_id = ?`, chatID, contactID).Scan(&n)
	return n > 0, err
}

// ChatByContact returns the one-to-one chat with a contact, or 0 if none exists.
func (db *DB) ChatByContact(contactID ContactID) (ChatID, error) {
	var id ChatID
	err := db.QueryRow(`
		SELECT cc.chat_id FROM chats_contacts cc
		WHERE cc.contact_id = ? AND cc.chat_id > ?
		  AND (SELECT COUNT(*) FROM chats_contacts x WHERE x.chat_id = cc.chat_id) = 1
		ORDER BY cc.chat_id LIMIT 1`, contactID, ChatLastSpecial).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// AcceptChat turns a contact request into a normal chat. Accepting a normal chat is a no-op.
func (db *DB) AcceptChat(id ChatID) error {
	_, err := db.Exec(`UPDATE chats SET blocked = ? WHERE id = ? AND blocked = ?`, ChatNotBlocked, id, ChatRequest)
	return err
}

// SetChatEphemeral stores the chat timer together with the Message-ID and
// send time of the message that caused the change.
func (db *DB) SetChatEphemeral(id ChatID, timer uint32, changeMID string, changeTS int64) error {
	_, err := db.Exec(`
		UPDATE chats SET ephemeral_timer = ?, ephemeral_change_mid = ?, ephemeral_change_ts = ?
		WHERE id = ?`, timer, changeMID, changeTS, id)
	return err
}

// ChatCount returns the number of non-special chats.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats WHERE id > ?`, ChatLastSpecial).Scan(&n)
	return n, err
}
