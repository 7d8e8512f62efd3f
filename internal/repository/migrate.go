package repository

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/iqrfgd2/daemon/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending migration to the sqlite file at
// path. Grounded on the teacher's pkg/store/metadata/postgres/migrate.go
// (golang-migrate driven off an embedded iofs source), adapted from the
// Postgres driver to golang-migrate's own sqlite driver since this
// catalog has no Postgres backend. golang-migrate opens its own
// connection for the migration run, independent of gorm's.
func runMigrations(path string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("repository: migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("repository: migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("repository: apply migrations: %w", err)
	}

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("repository: migration version: %w", err)
	}
	if dirty {
		logger.Warn("repository: schema left in dirty state", logger.Interface(path))
	}

	return nil
}
