package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
)

// ScanHandler accepts belongings detected by the device's scan screen and
// appends them to the session checklist as uncollected items.
type ScanHandler struct {
	store *database.SessionStore
}

// NewScanHandler creates a new scan handler
func NewScanHandler(store *database.SessionStore) *ScanHandler {
	return &ScanHandler{store: store}
}

// AddItems appends detected items to a session's checklist
// POST /api/scan/items
func (h *ScanHandler) AddItems(c *fiber.Ctx) error {
	var req models.ScanItemsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.SessionID == "" || len(req.Items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id and at least one item are required",
		})
	}

	session, err := h.store.Get(req.SessionID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	position := len(session.ChecklistItems)
	added := make([]models.ChecklistItem, 0, len(req.Items))
	for _, detected := range req.Items {
		if detected.Title == "" {
			continue
		}
		item := models.ChecklistItem{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Title:     detected.Title,
			Icon:      detected.Icon,
			Position:  position,
		}
		if err := h.store.InsertChecklistItem(&item); err != nil {
			log.Printf("❌ [SCAN] Failed to add detected item %q: %v", detected.Title, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to add detected items",
			})
		}
		added = append(added, item)
		position++
	}

	log.Printf("📷 [SCAN] Added %d detected items to session %s", len(added), session.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"items": added})
}
