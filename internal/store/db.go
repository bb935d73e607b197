package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite database of one account.
type DB struct {
	*sql.DB
}

// dsnOptions are appended to the file path as go-sqlite3 connection
// parameters.
var dsnOptions = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
	"_txlock":       {"immediate"},
}

// Open opens the database at path and checks that it is reachable.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?"+dsnOptions.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: conn}, nil
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
