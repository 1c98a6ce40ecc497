package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner moves the audit_records schema between versions using the
// SQL files under the migrations directory.
type MigrationRunner struct {
	m   *migrate.Migrate
	log *logrus.Entry
}

// NewMigrationRunner binds the migration directory to the journal database.
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	dir, err := filepath.Abs(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("resolving migrations directory %q: %w", migrationsPath, err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("preparing audit schema migrations: %w", err)
	}

	return &MigrationRunner{
		m:   m,
		log: logger.WithField("migrations", dir),
	}, nil
}

// MigrateUp brings the audit schema to the newest version.
func MigrateUp(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) (err error) {
	runner, err := NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return runner.Up(ctx)
}

// Up applies every pending migration.
func (r *MigrationRunner) Up(ctx context.Context) error {
	return r.step(ctx, "up", r.m.Up)
}

// Down reverts the newest applied migration.
func (r *MigrationRunner) Down(ctx context.Context) error {
	return r.step(ctx, "down", func() error { return r.m.Steps(-1) })
}

func (r *MigrationRunner) step(ctx context.Context, direction string, apply func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := apply()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.log.WithField("direction", direction).Debug("Audit schema unchanged")
		return nil
	case err != nil:
		return fmt.Errorf("audit schema migration %s: %w", direction, err)
	}

	version, dirty, verr := r.m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("reading audit schema version: %w", verr)
	}
	r.log.WithFields(logrus.Fields{
		"direction":      direction,
		"schema_version": version,
		"dirty":          dirty,
	}).Info("Audit schema migrated")
	return nil
}

// Version reports the applied schema version and whether the last run
// stopped halfway.
func (r *MigrationRunner) Version() (uint, bool, error) {
	return r.m.Version()
}

// Close releases the source and database handles.
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}
