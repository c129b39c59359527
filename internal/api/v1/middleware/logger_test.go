package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestLoggerPassesRequestThrough(t *testing.T) {
	app := fiber.New()
	app.Use(Logger())
	app.Get("/fits/:id", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	}).Name("GetFit")

	resp, err := app.Test(httptest.NewRequest("GET", "/fits/42", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "ok", string(body))
}

func TestLoggerPropagatesHandlerError(t *testing.T) {
	app := fiber.New()
	app.Use(Logger())
	app.Get("/boom", func(_ *fiber.Ctx) error {
		return fiber.ErrServiceUnavailable
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
