package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"seatcheck/internal/models"
	"seatcheck/internal/services"
)

// Notification action identifiers handled directly by the arbiter rather than
// the escalation driver.
const (
	actionEndNow = "end_now"
	actionExtend = "extend"
)

// ActionHandler routes notification action callbacks: acknowledgement actions
// go to the escalation driver, end/extend go to the arbiter.
type ActionHandler struct {
	escalation *services.EscalationService
	arbiter    *services.Arbiter
}

// NewActionHandler creates a new action handler
func NewActionHandler(escalation *services.EscalationService, arbiter *services.Arbiter) *ActionHandler {
	return &ActionHandler{escalation: escalation, arbiter: arbiter}
}

// Handle applies one notification action
// POST /api/actions
func (h *ActionHandler) Handle(c *fiber.Ctx) error {
	var req models.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.SessionID == "" || req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id and action are required",
		})
	}

	switch req.Action {
	case actionEndNow:
		if err := h.arbiter.EndNow(req.SessionID); err != nil {
			log.Printf("❌ [ACTIONS] Failed to end session %s: %v", req.SessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to end session",
			})
		}
		return c.JSON(fiber.Map{"status": "applied", "action": req.Action})

	case actionExtend:
		if req.DurationSeconds <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "duration_seconds must be positive for extend",
			})
		}
		err := h.arbiter.Extend(req.SessionID, time.Duration(req.DurationSeconds)*time.Second)
		if errors.Is(err, services.ErrSessionEnded) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Session has already ended",
			})
		}
		if errors.Is(err, services.ErrNoActiveSession) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No matching active session",
			})
		}
		if err != nil {
			log.Printf("❌ [ACTIONS] Failed to extend session %s: %v", req.SessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to extend session",
			})
		}
		return c.JSON(fiber.Map{"status": "applied", "action": req.Action})
	}

	err := h.escalation.Acknowledge(req.SessionID, req.Action)
	if errors.Is(err, services.ErrNoActiveSession) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No alert sequence for that session",
		})
	}
	if err != nil {
		log.Printf("❌ [ACTIONS] Failed to apply action %s: %v", req.Action, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "applied", "action": req.Action})
}
