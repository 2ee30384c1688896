package handlers

import (
	"github.com/gofiber/fiber/v2"

	"seatcheck/internal/services"
)

// PresetHandler serves the preset catalog
type PresetHandler struct {
	presets *services.PresetService
}

// NewPresetHandler creates a new preset handler
func NewPresetHandler(presets *services.PresetService) *PresetHandler {
	return &PresetHandler{presets: presets}
}

// List returns all presets
// GET /api/presets
func (h *PresetHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"presets": h.presets.All()})
}
