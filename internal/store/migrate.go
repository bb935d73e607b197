package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatmail/internal/store/migrations"
)

// ErrDirtySchema is returned when a previous migration stopped halfway.
var ErrDirtySchema = errors.New("schema is dirty, manual repair required")

// MigrateResult reports the schema version after Migrate and whether any
// migration ran.
type MigrateResult struct {
	Version uint
	Changed bool
}

// Migrate applies the embedded schema migrations that have not run yet.
func (db *DB) Migrate() (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migrate: source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return nil, fmt.Errorf("migrate: read version: %w", err)
	case dirty:
		return nil, fmt.Errorf("migrate: version %d: %w", before, ErrDirtySchema)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate: up: %w", err)
	}
	after, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migrate: read version: %w", err)
	}
	return &MigrateResult{Version: after, Changed: after != before}, nil
}
