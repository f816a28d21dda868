// Package database owns the Postgres connection pool and schema migrations
// shared by the prompt queue and the recordings ledger.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
)

// Connect opens a pool, checks it and applies pending migrations from migrationsDir
func Connect(ctx context.Context, databaseURL, migrationsDir string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")

	if err := RunMigrations(databaseURL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return pool, nil
}

// RunMigrations applies every pending up migration
func RunMigrations(databaseURL, migrationsDir string) error {
	m, closeDB, err := newMigrate(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer closeDB()
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations applied successfully")
	return nil
}

// ResetMigrations drops all tables and re-runs migrations (for development)
func ResetMigrations(databaseURL, migrationsDir string) error {
	logger.Warn("Resetting database - this will drop all data!")

	m, closeDB, err := newMigrate(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer closeDB()
	defer m.Close()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	logger.Info("Database dropped successfully")

	// Drop removes the schema_migrations table too, so a fresh instance is needed.
	m2, closeDB2, err := newMigrate(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer closeDB2()
	defer m2.Close()

	if err := m2.Up(); err != nil {
		return fmt.Errorf("failed to run migrations after reset: %w", err)
	}

	logger.Info("Database reset and migrations applied successfully")
	return nil
}

func newMigrate(databaseURL, migrationsDir string) (*migrate.Migrate, func(), error) {
	sourceURL, err := migrationsURL(migrationsDir)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Running migrations", zap.String("path", sourceURL))

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, func() { db.Close() }, nil
}

// migrationsURL builds a file:// source URL that works on Windows and Unix
func migrationsURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}

	if runtime.GOOS == "windows" {
		u := &url.URL{
			Scheme: "file",
			Path:   filepath.ToSlash(abs),
		}
		return u.String(), nil
	}
	return "file://" + abs, nil
}
