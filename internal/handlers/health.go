package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"seatcheck/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	arbiter     *services.Arbiter
	relay       *services.AlertRelay
}

// NewHealthHandler creates a new health handler. relay may be nil.
func NewHealthHandler(connManager *services.ConnectionManager, arbiter *services.Arbiter,
	relay *services.AlertRelay) *HealthHandler {
	return &HealthHandler{
		connManager: connManager,
		arbiter:     arbiter,
		relay:       relay,
	}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := fiber.Map{
		"status":      "healthy",
		"connections": h.connManager.ConnectionCount(),
		"state":       h.arbiter.State(),
		"timestamp":   time.Now().Format(time.RFC3339),
	}

	if h.relay != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := h.relay.Ping(ctx); err != nil {
			status["relay"] = "unreachable"
		} else {
			status["relay"] = "connected"
		}
	}

	return c.JSON(status)
}
