package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// SetSelfAddr records the account address on the SELF contact.
func (db *DB) SetSelfAddr(addr string) error {
	_, err := db.Exec(`UPDATE contacts SET addr = ? WHERE id = ?`, strings.ToLower(addr), ContactSelf)
	return err
}

// SelfAddr returns the account address.
func (db *DB) SelfAddr() (string, error) {
	var addr string
	err := db.QueryRow(`SELECT addr FROM contacts WHERE id = ?`, ContactSelf).Scan(&addr)
	return addr, err
}

// LookupOrCreateContact returns the contact for addr, creating it if needed.
// A non-empty name replaces the stored one.
func (db *DB) LookupOrCreateContact(addr, name string) (ContactID, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return 0, fmt.Errorf("lookup contact: empty address")
	}
	_, err := db.Exec(`
		INSERT INTO contacts (addr, name) VALUES (?, ?)
		ON CONFLICT(addr) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END`,
		addr, name)
	if err != nil {
		return 0, fmt.Errorf("upsert contact %q: %w", addr, err)
	}
	var id ContactID
	if err := db.QueryRow(`SELECT id FROM contacts WHERE addr = ?`, addr).Scan(&id); err != nil {
		return 0, fmt.Errorf("select contact %q: %w", addr, err)
	}
	return id, nil
}

// GetContact returns a contact by id, or nil if it does not exist.
func (db *DB) GetContact(id ContactID) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, addr, name FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Addr, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
