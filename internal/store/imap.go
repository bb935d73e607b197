package store

import (
	"database/sql"
	"fmt"
)

// UpsertIMAPRecord remembers where a message lives on the server.
// target is the folder the message should stay in; an empty target marks it
// for deletion.
func (db *DB) UpsertIMAPRecord(rfc724MID, folder, target string, uid, uidvalidity uint32) error {
	_, err := db.Exec(`
		INSERT INTO imap (rfc724_mid, folder, target, uid, uidvalidity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder, uid, uidvalidity) DO UPDATE SET
			rfc724_mid = excluded.rfc724_mid,
			target = excluded.target`,
		rfc724MID, folder, target, uid, uidvalidity)
	return err
}

// IMAPLocationByRFC724MID returns the server coordinates of a message that is
// not marked for deletion, or nil when there is no such record.
func (db *DB) IMAPLocationByRFC724MID(rfc724MID string) (*IMAPLocation, error) {
	var loc IMAPLocation
	err := db.QueryRow(`
		SELECT folder, uid, uidvalidity FROM imap
		WHERE rfc724_mid = ? AND target != ''
		ORDER BY id LIMIT 1`, rfc724MID).Scan(&loc.Folder, &loc.UID, &loc.UIDValidity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// IMAPMarkedForDeletion returns UIDs in folder whose target is empty.
func (db *DB) IMAPMarkedForDeletion(folder string, uidvalidity uint32) ([]uint32, error) {
	rows, err := db.Query(`SELECT uid FROM imap WHERE folder = ? AND uidvalidity = ? AND target = '' ORDER BY uid`, folder, uidvalidity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var uids []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// DeleteIMAPRecords forgets server records after they were expunged.
func (db *DB) DeleteIMAPRecords(folder string, uidvalidity uint32, uids []uint32) error {
	return db.inTx(func(tx *sql.Tx) error {
		for _, uid := range uids {
			if _, err := tx.Exec(`DELETE FROM imap WHERE folder = ? AND uidvalidity = ? AND uid = ?`, folder, uidvalidity, uid); err != nil {
				return fmt.Errorf("delete imap record %d: %w", uid, err)
			}
		}
		return nil
	})
}
