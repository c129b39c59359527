package handlers

import (
	fiber "github.com/gofiber/fiber/v2"
)

// Response is the API response envelope
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondSuccess writes a success envelope with the given status code
func respondSuccess(c *fiber.Ctx, code int, message string, data interface{}) error {
	return c.Status(code).JSON(Response{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

// respondError writes an error envelope with the given status code
func respondError(c *fiber.Ctx, code int, message string) error {
	return c.Status(code).JSON(Response{
		Status:  "error",
		Message: message,
	})
}
