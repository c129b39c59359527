// Applies the fit_jobs schema migrations.
//
// Usage:
//
//	go run cmd/migrate/main.go            # apply all pending migrations
//	go run cmd/migrate/main.go -down      # roll everything back
//	go run cmd/migrate/main.go -steps -1  # roll back one migration
//	go run cmd/migrate/main.go -force 2   # mark version 2 without running it
package main

import (
	"flag"
	"time"

	"github.com/joho/godotenv"

	"github.com/multimessenger/nmmadb/internal/db/migrations"
	"github.com/multimessenger/nmmadb/internal/logger"
)

func main() {
	var (
		dbURL     = flag.String("db", "", "database URL (default: built from the DB_* environment)")
		path      = flag.String("path", "file://migrations", "migration source path")
		down      = flag.Bool("down", false, "roll back instead of applying")
		steps     = flag.Int("steps", 0, "number of migrations to apply (negative rolls back)")
		force     = flag.Int("force", -1, "force a specific schema version")
		retries   = flag.Int("retries", 5, "database connection retries")
		retryWait = flag.Duration("retry-wait", 3*time.Second, "wait between connection retries")
	)
	flag.Parse()

	// Optional .env for local development
	_ = godotenv.Load()

	logger.InitializeAndConfigure()

	cfg := migrations.DefaultConfig()
	cfg.MigrationsPath = *path
	cfg.RetryAttempts = *retries
	cfg.RetryDelay = *retryWait
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	service, err := migrations.NewService(cfg)
	if err != nil {
		logger.Fatalf("Failed to create migration service: %v", err)
	}

	switch {
	case *force >= 0:
		if err := service.Force(*force); err != nil {
			logger.Fatalf("Failed to force schema version %d: %v", *force, err)
		}
		logger.Infof("Schema version forced to %d", *force)
		return
	case *steps != 0:
		if err := service.Steps(*steps); err != nil {
			logger.Fatalf("Failed to apply %d migration steps: %v", *steps, err)
		}
		logger.Infof("Applied %d migration steps", *steps)
	case *down:
		if err := service.Down(); err != nil {
			logger.Fatalf("Migration rollback failed: %v", err)
		}
	default:
		if err := service.Up(); err != nil {
			logger.Fatalf("Migration failed: %v", err)
		}
	}

	version, dirty, err := service.Version()
	if err != nil {
		logger.Warnf("Could not read final schema version: %v", err)
		return
	}
	logger.Infof("Current schema version: %d (dirty: %v)", version, dirty)
}
