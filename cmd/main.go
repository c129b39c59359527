package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/multimessenger/nmmadb/internal/api/v1/handlers"
	"github.com/multimessenger/nmmadb/internal/api/v1/middleware"
	"github.com/multimessenger/nmmadb/internal/api/v1/routes"
	"github.com/multimessenger/nmmadb/internal/config"
	"github.com/multimessenger/nmmadb/internal/db"
	"github.com/multimessenger/nmmadb/internal/db/repos"
	"github.com/multimessenger/nmmadb/internal/engine"
	"github.com/multimessenger/nmmadb/internal/events"
	"github.com/multimessenger/nmmadb/internal/logger"
	"github.com/multimessenger/nmmadb/internal/services"
)

func main() {
	roleFlag := flag.String("role", "", "service role: api, worker or all (env: SERVICE_ROLE)")
	flag.Parse()

	// Optional .env for local development
	_ = godotenv.Load()

	logger.InitializeAndConfigure()

	roleStr := *roleFlag
	if roleStr == "" {
		roleStr = config.GetEnv("SERVICE_ROLE", string(config.RoleAll))
	}
	role, err := config.ParseRole(roleStr)
	if err != nil {
		logger.Fatalf("Invalid service role: %v", err)
	}

	database, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", ""),
		User:     config.GetEnv("DB_USER", ""),
		Password: config.GetEnv("DB_PASSWORD", ""),
		DBName:   config.GetEnv("DB_NAME", ""),
		Port:     config.GetEnvInt("DB_PORT", 0),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events.Start(ctx)

	repo := repos.NewFitJobRepository(database)
	fitService := services.NewFitJobService(repo)

	var wg sync.WaitGroup

	if role == config.RoleWorker || role == config.RoleAll {
		runner := engine.NewNMMARunner(config.LoadEngine())
		dispatcher := services.NewDispatcher(config.LoadDispatcher(), repo, runner)
		wg.Add(1)
		go dispatcher.Run(ctx, &wg)
	}

	if role == config.RoleAPI || role == config.RoleAll {
		apiCfg := config.LoadAPI()

		app := fiber.New(fiber.Config{
			ErrorHandler: customErrorHandler,
		})
		app.Use(middleware.Logger())
		routes.RegisterRoutes(app, handlers.NewFitHandler(fitService))

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			logger.Info("API received shutdown signal, stopping...")
			if err := app.Shutdown(); err != nil {
				logger.Errorf("Error shutting down API server: %v", err)
			}
		}()

		logger.Infof("API listening on %s (role: %s)", apiCfg.ListenAddr, role)
		if err := app.Listen(apiCfg.ListenAddr); err != nil {
			logger.Fatalf("API server error: %v", err)
		}
	}

	wg.Wait()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  "error",
		"message": err.Error(),
	})
}
