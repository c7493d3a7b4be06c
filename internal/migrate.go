package internal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockID serializes schema changes between the server, the worker
// and vtctl, which all migrate on startup.
const advisoryLockID = 4815162342

func acquireAdvisoryLock(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID)
	if err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

func releaseAdvisoryLock(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)
	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}

// migrateURL rewrites the pool's connection string for the golang-migrate
// pgx/v5 driver, which registers the pgx5 scheme.
func migrateURL(pool *pgxpool.Pool) (string, error) {
	u, err := url.Parse(pool.Config().ConnString())
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	u.Scheme = "pgx5"
	return u.String(), nil
}

func createMigrator(pool *pgxpool.Pool) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source driver: %w", err)
	}

	dbURL, err := migrateURL(pool)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

func riverMigrator(pool *pgxpool.Pool, logger *slog.Logger) (*rivermigrate.Migrator[pgx.Tx], error) {
	m, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create river migrator: %w", err)
	}
	return m, nil
}

// MigrateUp runs all pending migrations, River's first and then the
// application's, under a postgres advisory lock.
func MigrateUp(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := acquireAdvisoryLock(ctx, pool); err != nil {
		return err
	}
	defer releaseAdvisoryLock(ctx, pool)

	rm, err := riverMigrator(pool, logger)
	if err != nil {
		return err
	}
	res, err := rm.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to run river migrations up: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info("applied river migration", "version", v.Version, "name", v.Name)
	}

	m, err := createMigrator(pool)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run application migrations up: %w", err)
	}
	if version, dirty, err := m.Version(); err == nil {
		logger.Info("application schema ready", "version", version, "dirty", dirty)
	}

	return nil
}

// MigrateDown rolls back the application's migrations and then River's,
// under a postgres advisory lock.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := acquireAdvisoryLock(ctx, pool); err != nil {
		return err
	}
	defer releaseAdvisoryLock(ctx, pool)

	m, err := createMigrator(pool)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run application migrations down: %w", err)
	}

	rm, err := riverMigrator(pool, logger)
	if err != nil {
		return err
	}
	res, err := rm.Migrate(ctx, rivermigrate.DirectionDown, &rivermigrate.MigrateOpts{TargetVersion: -1})
	if err != nil {
		return fmt.Errorf("failed to run river migrations down: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info("removed river migration", "version", v.Version, "name", v.Name)
	}

	return nil
}

// SchemaVersion reports the applied application migration version.
// A fresh database reports version 0.
func SchemaVersion(pool *pgxpool.Pool) (uint, bool, error) {
	m, err := createMigrator(pool)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}
