package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"seatcheck/internal/models"
	"seatcheck/internal/services"
)

// SignalHandler ingests raw sensor readings from the device and feeds them to
// the signal sources. Location fixes arrive at up to device GPS rate; a token
// bucket caps what we evaluate to ~2/s with a small burst.
type SignalHandler struct {
	location        *services.LocationSource
	motion          *services.MotionSource
	bluetooth       *services.BluetoothSource
	locationLimiter *rate.Limiter
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(location *services.LocationSource, motion *services.MotionSource,
	bluetooth *services.BluetoothSource) *SignalHandler {
	return &SignalHandler{
		location:        location,
		motion:          motion,
		bluetooth:       bluetooth,
		locationLimiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
	}
}

// Location ingests a raw position fix
// POST /api/signals/location
func (h *SignalHandler) Location(c *fiber.Ctx) error {
	if !h.locationLimiter.Allow() {
		// Dropping a fix is harmless; the next one carries fresher data anyway.
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Too many location readings",
		})
	}

	var reading models.LocationReading
	if err := c.BodyParser(&reading); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if reading.At.IsZero() {
		reading.At = time.Now()
	}

	h.location.Ingest(reading)
	return c.JSON(fiber.Map{"status": "accepted"})
}

// Motion ingests a raw motion-activity sample
// POST /api/signals/motion
func (h *SignalHandler) Motion(c *fiber.Ctx) error {
	var reading models.MotionReading
	if err := c.BodyParser(&reading); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if reading.At.IsZero() {
		reading.At = time.Now()
	}

	h.motion.Ingest(reading)
	return c.JSON(fiber.Map{"status": "accepted"})
}

// Bluetooth ingests a raw peripheral connect/disconnect event
// POST /api/signals/bluetooth
func (h *SignalHandler) Bluetooth(c *fiber.Ctx) error {
	var reading models.BluetoothReading
	if err := c.BodyParser(&reading); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if reading.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "device_id is required",
		})
	}
	if reading.At.IsZero() {
		reading.At = time.Now()
	}

	h.bluetooth.Ingest(reading)
	return c.JSON(fiber.Map{"status": "accepted"})
}

// Authorization records a signal source's permission state
// POST /api/signals/authorization
func (h *SignalHandler) Authorization(c *fiber.Ctx) error {
	var req models.AuthorizationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	state := models.AuthorizationState(req.State)
	switch state {
	case models.AuthNotDetermined, models.AuthAuthorized, models.AuthDenied:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown authorization state: " + req.State,
		})
	}

	switch models.SignalKind(req.Source) {
	case models.SignalLocation:
		h.location.SetAuthorization(state)
	case models.SignalMotion:
		h.motion.SetAuthorization(state)
	case models.SignalBluetooth:
		h.bluetooth.SetAuthorization(state)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown signal source: " + req.Source,
		})
	}

	log.Printf("🔐 [SIGNALS] Authorization updated: %s -> %s", req.Source, req.State)
	return c.JSON(fiber.Map{"status": "updated"})
}
