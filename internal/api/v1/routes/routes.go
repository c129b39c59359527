// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/multimessenger/nmmadb/internal/api/v1/handlers"
)

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Health check
	HealthCheck = "HealthCheck"

	// Fit job routes
	GetFits   = "GetFits"
	GetFit    = "GetFit"
	CreateFit = "CreateFit"
	CancelFit = "CancelFit"
)

// RegisterRoutes configures all the v1 routes.
//
// NOTE: route ordering is important because routes will try and match
// in the order they are registered: parameterized urls (/:id) go after
// their fixed-path siblings.
func RegisterRoutes(app *fiber.App, fitHandler *handlers.FitHandler) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	// API v1 routes
	v1 := app.Group(APIv1Prefix)

	// Fit job endpoints
	fits := v1.Group("/fits")
	fits.Get("/", fitHandler.ListFits).Name(GetFits)
	fits.Get("/:id", fitHandler.GetFit).Name(GetFit)
	fits.Post("/", fitHandler.CreateFit).Name(CreateFit)
	fits.Delete("/:id", fitHandler.CancelFit).Name(CancelFit)
}
