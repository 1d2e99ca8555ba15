package handler

import (
	"github.com/gofiber/fiber/v2"
)

func pageParams(c *fiber.Ctx) (limit, offset int) {
	limit = 50
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 200 {
		limit = parsed
	}
	if parsed := c.QueryInt("offset"); parsed > 0 {
		offset = parsed
	}
	return limit, offset
}

// ListLocations handles GET /api/locations
func (h *APIHandler) ListLocations(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	locations, err := h.dimensions.ListLocations(requestContext(c), limit, offset)
	if err != nil {
		return h.fail(c, "list locations", err)
	}
	return c.JSON(locations)
}

// GetLocation handles GET /api/locations/:id
func (h *APIHandler) GetLocation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be a positive integer"})
	}

	location, err := h.dimensions.GetLocation(requestContext(c), int64(id))
	if err != nil {
		return h.fail(c, "get location", err)
	}
	return c.JSON(location)
}

// LocationsByCountry handles GET /api/locations/country/:code
func (h *APIHandler) LocationsByCountry(c *fiber.Ctx) error {
	locations, err := h.dimensions.LocationsByCountry(requestContext(c), c.Params("code"))
	if err != nil {
		return h.fail(c, "list locations", err)
	}
	return c.JSON(locations)
}

// ListDevices handles GET /api/devices
func (h *APIHandler) ListDevices(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	devices, err := h.dimensions.ListDevices(requestContext(c), limit, offset)
	if err != nil {
		return h.fail(c, "list devices", err)
	}
	return c.JSON(devices)
}

// GetDevice handles GET /api/devices/:id
func (h *APIHandler) GetDevice(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be a positive integer"})
	}

	device, err := h.dimensions.GetDevice(requestContext(c), int64(id))
	if err != nil {
		return h.fail(c, "get device", err)
	}
	return c.JSON(device)
}

// DevicesByType handles GET /api/devices/type/:type
func (h *APIHandler) DevicesByType(c *fiber.Ctx) error {
	devices, err := h.dimensions.DevicesByType(requestContext(c), c.Params("type"))
	if err != nil {
		return h.fail(c, "list devices", err)
	}
	return c.JSON(devices)
}
