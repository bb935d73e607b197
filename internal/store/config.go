package store

import (
	"database/sql"
	"strconv"
)

// SetConfig stores a key/value setting.
func (db *DB) SetConfig(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO config (keyname, value) VALUES (?, ?)
		ON CONFLICT(keyname) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetConfig returns a setting and whether it was present.
func (db *DB) GetConfig(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM config WHERE keyname = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetConfigUint32 returns a numeric setting, or 0 when unset or malformed.
func (db *DB) GetConfigUint32(key string) (uint32, error) {
	v, ok, err := db.GetConfig(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, nil
	}
	return uint32(n), nil
}
