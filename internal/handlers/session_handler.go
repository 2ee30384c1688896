package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
	"seatcheck/internal/services"
)

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	arbiter *services.Arbiter
	store   *database.SessionStore
	presets *services.PresetService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(arbiter *services.Arbiter, store *database.SessionStore,
	presets *services.PresetService) *SessionHandler {
	return &SessionHandler{
		arbiter: arbiter,
		store:   store,
		presets: presets,
	}
}

// Create starts a new session
// POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	preset := models.Preset(req.Preset)
	info, known := h.presets.Get(preset)
	if !known {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown preset: " + req.Preset,
		})
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if duration <= 0 {
		duration = time.Duration(info.DefaultDuration) * time.Second
	}

	checklist := make([]models.ChecklistItem, 0, len(req.Checklist))
	for _, item := range req.Checklist {
		if item.Title == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Checklist item title is required",
			})
		}
		checklist = append(checklist, models.ChecklistItem{Title: item.Title, Icon: item.Icon})
	}

	authorizations := make(map[models.SignalKind]models.AuthorizationState, len(req.Authorizations))
	for source, state := range req.Authorizations {
		authorizations[models.SignalKind(source)] = models.AuthorizationState(state)
	}

	session, err := h.arbiter.StartSession(services.StartSessionRequest{
		Preset:         preset,
		Duration:       duration,
		Checklist:      checklist,
		Baselines:      req.Baselines,
		Authorizations: authorizations,
	})
	if err != nil {
		if errors.Is(err, services.ErrSchedulerBusy) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A session is already active. End it before starting another.",
			})
		}
		log.Printf("❌ [SESSION] Failed to start session: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start session",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

// Get returns one session
// GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.store.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(session)
}

// List returns recent sessions, most recent first
// GET /api/sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	sessions, err := h.store.List(limit)
	if err != nil {
		log.Printf("❌ [SESSION] Failed to list sessions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Active returns the currently driven session, if any
// GET /api/sessions/active
func (h *SessionHandler) Active(c *fiber.Ctx) error {
	session := h.arbiter.ActiveSession()
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active session",
		})
	}
	return c.JSON(session)
}

// End ends the session immediately with cause manual
// POST /api/sessions/:id/end
func (h *SessionHandler) End(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if err := h.arbiter.EndNow(sessionID); err != nil {
		log.Printf("❌ [SESSION] Failed to end session %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to end session",
		})
	}

	session, err := h.store.Get(sessionID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(session)
}

// Extend adds time to the active session
// POST /api/sessions/:id/extend
func (h *SessionHandler) Extend(c *fiber.Ctx) error {
	var req models.ExtendSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.AdditionalSeconds <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "additional_seconds must be positive",
		})
	}

	sessionID := c.Params("id")
	err := h.arbiter.Extend(sessionID, time.Duration(req.AdditionalSeconds)*time.Second)
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
		log.Printf("❌ [SESSION] Failed to extend session %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to extend session",
		})
	}

	session := h.arbiter.ActiveSession()
	return c.JSON(session)
}

// Pause suspends countdown ticks
// POST /api/sessions/:id/pause
func (h *SessionHandler) Pause(c *fiber.Ctx) error {
	if err := h.arbiter.Pause(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No matching active session",
		})
	}
	return c.JSON(fiber.Map{"status": "paused"})
}

// Resume re-enables countdown ticks
// POST /api/sessions/:id/resume
func (h *SessionHandler) Resume(c *fiber.Ctx) error {
	if err := h.arbiter.Resume(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No matching active session",
		})
	}
	return c.JSON(fiber.Map{"status": "resumed"})
}

// Delete removes an ended session from history
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	if err := h.store.Delete(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found or still active",
		})
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

// AddItem appends one checklist item to a session
// POST /api/sessions/:id/items
func (h *SessionHandler) AddItem(c *fiber.Ctx) error {
	var req models.ChecklistItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Checklist item title is required",
		})
	}

	sessionID := c.Params("id")
	session, err := h.store.Get(sessionID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	item := models.ChecklistItem{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Title:     req.Title,
		Icon:      req.Icon,
		Position:  len(session.ChecklistItems),
	}
	if err := h.store.InsertChecklistItem(&item); err != nil {
		log.Printf("❌ [SESSION] Failed to add checklist item: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add checklist item",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

// CollectItem toggles one checklist item's collected state
// PUT /api/sessions/:id/items/:itemID
func (h *SessionHandler) CollectItem(c *fiber.Ctx) error {
	var req models.CollectItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.store.SetItemCollected(c.Params("id"), c.Params("itemID"), req.Collected); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Checklist item not found",
		})
	}
	return c.JSON(fiber.Map{"status": "updated", "collected": req.Collected})
}
