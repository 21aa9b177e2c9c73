package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// Migrator applies the ledger schema from a directory of golang-migrate files.
type Migrator struct {
	m      *migrate.Migrate
	logger zerolog.Logger
}

// NewMigrator opens the migrations in dir against databaseURL. dir may be
// a plain path or a file:// URL.
func NewMigrator(databaseURL, dir string, logger zerolog.Logger) (*Migrator, error) {
	source := dir
	if !strings.Contains(source, "://") {
		source = "file://" + source
	}

	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", source, err)
	}
	return &Migrator{m: m, logger: logger.With().Str("component", "migrator").Logger()}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.logger.Info().Msg("schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	mg.logVersion("schema migrated")
	return nil
}

// Down rolls back the most recent migration.
func (mg *Migrator) Down() error {
	if err := mg.m.Steps(-1); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	mg.logVersion("schema rolled back")
	return nil
}

// Close releases the source and database handles.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (mg *Migrator) logVersion(msg string) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		mg.logger.Info().Msg(msg + " to empty schema")
		return
	}
	mg.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg(msg)
}

// RunMigrations applies pending migrations and closes the migrator.
func RunMigrations(databaseURL, dir string, logger zerolog.Logger) error {
	return withMigrator(databaseURL, dir, logger, (*Migrator).Up)
}

// RunMigrationsDown rolls back the most recent migration and closes the migrator.
func RunMigrationsDown(databaseURL, dir string, logger zerolog.Logger) error {
	return withMigrator(databaseURL, dir, logger, (*Migrator).Down)
}

func withMigrator(databaseURL, dir string, logger zerolog.Logger, step func(*Migrator) error) error {
	mg, err := NewMigrator(databaseURL, dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing migrator")
		}
	}()
	return step(mg)
}
