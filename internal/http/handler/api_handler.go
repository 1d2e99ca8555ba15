package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	"github.com/sifan077/PowerPulse/internal/app/repository"
	"github.com/sifan077/PowerPulse/internal/app/service"
	httpUtil "github.com/sifan077/PowerPulse/internal/http/util"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger     *zap.Logger
	Clicks     service.ClickService
	Stats      service.StatsService
	Dimensions service.DimensionService
	Tickets    *httpUtil.TokenSigner
	// IngestLimiter guards click creation; nil disables it.
	IngestLimiter fiber.Handler
}

// APIHandler implements the analytics API endpoints.
type APIHandler struct {
	logger        *zap.Logger
	clicks        service.ClickService
	stats         service.StatsService
	dimensions    service.DimensionService
	tickets       *httpUtil.TokenSigner
	ingestLimiter fiber.Handler
	validate      *validator.Validate
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:        logger,
		clicks:        deps.Clicks,
		stats:         deps.Stats,
		dimensions:    deps.Dimensions,
		tickets:       deps.Tickets,
		ingestLimiter: deps.IngestLimiter,
		validate:      validator.New(),
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		clicks := api.Group("/click-events")
		{
			if h.ingestLimiter != nil {
				clicks.Post("/", h.ingestLimiter, h.CreateClick)
			} else {
				clicks.Post("/", h.CreateClick)
			}
			clicks.Get("/", h.GetClickHistory)
			clicks.Get("/stats", h.GetStats)
		}

		analytics := api.Group("/analytics")
		{
			analytics.Get("/overview", h.GetOverview)
			analytics.Get("/system", h.GetSystemStats)
		}

		locations := api.Group("/locations")
		{
			locations.Get("/", h.ListLocations)
			locations.Get("/country/:code", h.LocationsByCountry)
			locations.Get("/:id", h.GetLocation)
		}

		devices := api.Group("/devices")
		{
			devices.Get("/", h.ListDevices)
			devices.Get("/type/:type", h.DevicesByType)
			devices.Get("/:id", h.GetDevice)
		}

		api.Post("/realtime/tickets", h.IssueTicket)
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// fail maps service errors onto HTTP statuses. Access denial never carries
// detail so callers cannot probe which URLs exist.
func (h *APIHandler) fail(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrAccessDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access denied"})
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		h.logger.Error(op+" failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service temporarily unavailable"})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to " + op})
	}
}

// check runs struct validation and renders a 400 listing offending fields.
func (h *APIHandler) check(c *fiber.Ctx, req any) (bool, error) {
	err := h.validate.Struct(req)
	if err == nil {
		return true, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	msgs := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		return lowerFirst(fe.Field()) + " failed " + fe.Tag()
	})
	return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"fields": msgs,
	})
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
