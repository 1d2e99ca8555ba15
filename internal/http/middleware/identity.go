package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-Id"

const userIDKey = "user_id"

// Identity stores the gateway-provided user id for handlers.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if uid := strings.TrimSpace(c.Get(UserIDHeader)); uid != "" {
			c.Locals(userIDKey, uid)
		}
		return c.Next()
	}
}

// GetUserID returns the caller identity, or "" for anonymous requests.
func GetUserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(userIDKey).(string)
	return uid
}
