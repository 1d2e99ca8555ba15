package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerPulse/internal/http/util"
	"go.uber.org/zap"
)

// IssueTicket handles POST /api/realtime/tickets. The ticket lets a browser
// bind its socket to the caller's user id without custom headers.
func (h *APIHandler) IssueTicket(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	if h.tickets == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "realtime tickets are disabled"})
	}

	ticket, err := h.tickets.Issue(userID)
	if err != nil {
		if errors.Is(err, httpUtil.ErrMissingSecret) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "realtime tickets are disabled"})
		}
		h.logger.Error("failed to issue realtime ticket", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to issue ticket"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ticket":    ticket,
		"userId":    userID,
		"expiresIn": int(h.tickets.TTL().Seconds()),
	})
}
