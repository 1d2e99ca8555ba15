package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPulse/internal/app/service"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
)

// CreateClickRequest is the body of POST /api/click-events. Omitted and
// empty-string fields are kept distinct.
type CreateClickRequest struct {
	URLID       *string `json:"urlId,omitempty" validate:"omitempty,numeric,max=19"`
	IPAddress   *string `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	Referrer    *string `json:"referrer,omitempty" validate:"omitempty,max=500"`
	CountryCode *string `json:"countryCode,omitempty" validate:"omitempty,len=2,alpha"`
	CountryName *string `json:"countryName,omitempty" validate:"omitempty,max=100"`
	City        *string `json:"city,omitempty" validate:"omitempty,max=100"`
	DeviceType  *string `json:"deviceType,omitempty" validate:"omitempty,oneof=desktop mobile tablet unknown"`
	BrowserName *string `json:"browserName,omitempty" validate:"omitempty,max=50"`
	OSName      *string `json:"osName,omitempty" validate:"omitempty,max=50"`
}

// ClickHistoryQuery is the query of GET /api/click-events.
type ClickHistoryQuery struct {
	URLID string `query:"urlId" validate:"required,numeric"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=10"`
}

// URLQuery selects one URL.
type URLQuery struct {
	URLID string `query:"urlId" validate:"required,numeric"`
}

// CreateClick handles POST /api/click-events
func (h *APIHandler) CreateClick(c *fiber.Ctx) error {
	var req CreateClickRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if ok, err := h.check(c, &req); !ok {
		return err
	}

	view, err := h.clicks.CreateClick(requestContext(c), service.CreateClickInput{
		URLID:       req.URLID,
		IPAddress:   req.IPAddress,
		Referrer:    req.Referrer,
		CountryCode: req.CountryCode,
		CountryName: req.CountryName,
		City:        req.City,
		DeviceType:  req.DeviceType,
		BrowserName: req.BrowserName,
		OSName:      req.OSName,
	})
	if err != nil {
		return h.fail(c, "create click event", err)
	}

	return c.Status(fiber.StatusCreated).JSON(view)
}

// GetClickHistory handles GET /api/click-events?urlId=&limit=
func (h *APIHandler) GetClickHistory(c *fiber.Ctx) error {
	var q ClickHistoryQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
	}
	if ok, err := h.check(c, &q); !ok {
		return err
	}

	history, err := h.clicks.GetClickHistory(requestContext(c), q.URLID, middleware.GetUserID(c), q.Limit)
	if err != nil {
		return h.fail(c, "load click history", err)
	}
	return c.JSON(history)
}

// GetStats handles GET /api/click-events/stats?urlId=
func (h *APIHandler) GetStats(c *fiber.Ctx) error {
	var q URLQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
	}
	if ok, err := h.check(c, &q); !ok {
		return err
	}

	stats, err := h.stats.GetStats(requestContext(c), q.URLID, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, "load click stats", err)
	}
	return c.JSON(stats)
}
