package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"seatcheck/internal/models"
	"seatcheck/pkg/auth"
)

// PairHandler exchanges the shared pairing code for a device token.
type PairHandler struct {
	jwtAuth         *auth.DeviceJWTAuth
	pairingCodeHash string
}

// NewPairHandler creates a new pairing handler
func NewPairHandler(jwtAuth *auth.DeviceJWTAuth, pairingCodeHash string) *PairHandler {
	return &PairHandler{
		jwtAuth:         jwtAuth,
		pairingCodeHash: pairingCodeHash,
	}
}

// Pair verifies the pairing code and issues a device token
// POST /api/pair
func (h *PairHandler) Pair(c *fiber.Ctx) error {
	if h.jwtAuth == nil || h.pairingCodeHash == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Pairing is not configured",
		})
	}

	var req models.PairRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PairingCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "pairing_code is required",
		})
	}

	ok, err := auth.VerifyPairingCode(h.pairingCodeHash, req.PairingCode)
	if err != nil {
		log.Printf("❌ [PAIR] Pairing code verification error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Pairing failed",
		})
	}
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid pairing code",
		})
	}

	deviceID := uuid.New().String()
	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = "iPhone"
	}

	token, err := h.jwtAuth.GenerateToken(deviceID, deviceName)
	if err != nil {
		log.Printf("❌ [PAIR] Failed to generate device token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Pairing failed",
		})
	}

	log.Printf("🔗 [PAIR] Device paired: %s (%s)", deviceName, deviceID)
	return c.JSON(fiber.Map{
		"device_id": deviceID,
		"token":     token,
	})
}
