package store

import (
	"strings"
	"time"
)

// QueueSMTP adds a rendered MIME message to the send queue.
func (db *DB) QueueSMTP(rfc724MID string, recipients []string, mime []byte, msgID MsgID) error {
	_, err := db.Exec(`
		INSERT INTO smtp (rfc724_mid, recipients, mime, msg_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rfc724MID, strings.Join(recipients, " "), mime, msgID, time.Now().Unix())
	return err
}

// PendingSMTP returns queued jobs with fewer than maxRetries attempts, oldest first.
func (db *DB) PendingSMTP(maxRetries int) ([]SMTPJob, error) {
	rows, err := db.Query(`
		SELECT id, rfc724_mid, recipients, mime, msg_id, retries
		FROM smtp WHERE retries < ? ORDER BY id ASC`, maxRetries)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []SMTPJob
	for rows.Next() {
		var j SMTPJob
		var recipients string
		if err := rows.Scan(&j.ID, &j.RFC724MID, &recipients, &j.MIME, &j.MsgID, &j.Retries); err != nil {
			return nil, err
		}
		j.Recipients = strings.Fields(recipients)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteSMTP removes a job after successful delivery.
func (db *DB) DeleteSMTP(id int64) error {
	_, err := db.Exec(`DELETE FROM smtp WHERE id = ?`, id)
	return err
}

// MarkSMTPFailed bumps the retry counter of a job and records the error.
func (db *DB) MarkSMTPFailed(id int64, errMsg string) (int, error) {
	if _, err := db.Exec(`UPDATE smtp SET retries = retries + 1, last_error = ? WHERE id = ?`, errMsg, id); err != nil {
		return 0, err
	}
	var retries int
	err := db.QueryRow(`SELECT retries FROM smtp WHERE id = ?`, id).Scan(&retries)
	return retries, err
}
