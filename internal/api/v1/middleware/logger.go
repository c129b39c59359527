// Package middleware provides HTTP middleware for the fit job API
package middleware

import (
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/multimessenger/nmmadb/internal/logger"
)

// Logger returns a middleware that logs each request once it has been
// served, including the matched route name so fit submissions and
// status polls can be told apart in aggregate.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logger.InfoWithFields("Handled request", map[string]interface{}{
			"method":   c.Method(),
			"path":     c.Path(),
			"route":    c.Route().Name,
			"status":   c.Response().StatusCode(),
			"duration": time.Since(start).String(),
			"ip":       c.IP(),
		})

		return err
	}
}
