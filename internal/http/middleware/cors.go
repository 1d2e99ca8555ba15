package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS returns a CORS middleware allowing the given origins ("*" when empty).
func CORS(origins ...string) fiber.Handler {
	allowed := "*"
	if len(origins) > 0 {
		allowed = strings.Join(origins, ", ")
	}

	return func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", allowed)
		c.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+UserIDHeader+", "+RequestIDHeader)
		c.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, "+RequestIDHeader)
		c.Set("Access-Control-Max-Age", "86400")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
