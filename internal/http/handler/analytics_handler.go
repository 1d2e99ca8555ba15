package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
)

// GetOverview handles GET /api/analytics/overview?urlId=
func (h *APIHandler) GetOverview(c *fiber.Ctx) error {
	var q URLQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
	}
	if ok, err := h.check(c, &q); !ok {
		return err
	}

	overview, err := h.stats.GetOverview(requestContext(c), q.URLID, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, "load analytics overview", err)
	}
	return c.JSON(overview)
}

// GetSystemStats handles GET /api/analytics/system
func (h *APIHandler) GetSystemStats(c *fiber.Ctx) error {
	stats, err := h.stats.GetSystemStats(requestContext(c))
	if err != nil {
		return h.fail(c, "load system stats", err)
	}
	return c.JSON(stats)
}
