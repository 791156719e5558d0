package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rohitpatil2845/BAATKANE/internal/store/migrations"
)

// MigrateResult reports the schema state after Migrate.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration. A dirty schema, left by a
// migration that failed halfway, is reported instead of retried.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	before, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("schema is dirty at version %d; repair it manually", before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	return &MigrateResult{
		Version: after,
		Dirty:   dirty,
		Changed: after != before,
	}, nil
}

// SchemaVersion returns the applied migration version, 0 before the first.
func (db *DB) SchemaVersion() (uint, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, err
	}
	v, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	return v, err
}
