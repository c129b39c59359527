// Package migrations applies the versioned SQL schema for the fit job
// store using golang-migrate.
package migrations

import (
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/multimessenger/nmmadb/internal/config"
	"github.com/multimessenger/nmmadb/internal/logger"
)

// Config holds migration configuration
type Config struct {
	// MigrationsPath is the migration source, e.g. file://migrations
	MigrationsPath string
	// DatabaseURL is the postgres URL to migrate
	DatabaseURL string
	// RetryAttempts bounds connection retries before giving up
	RetryAttempts int
	// RetryDelay is the wait between connection attempts
	RetryDelay time.Duration
}

// DefaultConfig returns the fit job store migration defaults, with the
// database URL assembled from the same DB_* environment variables the
// server reads.
func DefaultConfig() Config {
	return Config{
		MigrationsPath: "file://migrations",
		DatabaseURL:    DatabaseURLFromEnv(),
		RetryAttempts:  5,
		RetryDelay:     3 * time.Second,
	}
}

// DatabaseURLFromEnv builds a postgres URL from the DB_* environment
// variables, falling back to the local development defaults.
func DatabaseURLFromEnv() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		config.GetEnv("DB_USER", "postgres"),
		config.GetEnv("DB_PASSWORD", "postgres"),
		config.GetEnv("DB_HOST", "localhost"),
		config.GetEnv("DB_PORT", "5432"),
		config.GetEnv("DB_NAME", "nmmadb"),
		config.GetEnv("DB_SSL_MODE", "disable"),
	)
}

// Service applies schema migrations to the fit job database
type Service struct {
	config  Config
	migrate *migrate.Migrate
}

// NewService connects to the database and prepares the migration
// source. The database may still be starting up (compose, CI), so the
// connection is retried.
func NewService(cfg Config) (*Service, error) {
	var m *migrate.Migrate
	var err error

	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		m, err = migrate.New(cfg.MigrationsPath, cfg.DatabaseURL)
		if err == nil {
			break
		}
		logger.Warnf("Database not reachable for migrations (attempt %d/%d): %v",
			attempt, cfg.RetryAttempts, err)
		time.Sleep(cfg.RetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect for migrations after %d attempts: %w",
			cfg.RetryAttempts, err)
	}

	return &Service{
		config:  cfg,
		migrate: m,
	}, nil
}

// Up applies all pending migrations
func (s *Service) Up() error {
	if err := s.migrate.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("Fit job schema is up to date")
	return nil
}

// Down rolls back all migrations
func (s *Service) Down() error {
	if err := s.migrate.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	logger.Info("Fit job schema rolled back")
	return nil
}

// Steps applies n migrations up, or -n down
func (s *Service) Steps(n int) error {
	if err := s.migrate.Steps(n); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply %d migration steps: %w", n, err)
	}
	return nil
}

// Version returns the current schema version and whether it is dirty
func (s *Service) Version() (uint, bool, error) {
	return s.migrate.Version()
}

// Force marks the schema at the given version without running anything
func (s *Service) Force(version int) error {
	return s.migrate.Force(version)
}
