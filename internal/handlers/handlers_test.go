package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
	"seatcheck/internal/services"
)

type testEnv struct {
	app        *fiber.App
	store      *database.SessionStore
	arbiter    *services.Arbiter
	escalation *services.EscalationService
	presets    *services.PresetService
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := database.NewSessionStore(db)
	arbiter := services.NewArbiter(store)
	countdown := services.NewCountdownService(arbiter, services.NewNoopExecutionHold())
	location := services.NewLocationSource(arbiter)
	motion := services.NewMotionSource(arbiter)
	bluetooth := services.NewBluetoothSource(arbiter)

	connManager := services.NewConnectionManager()
	gateway := services.NewWebSocketGateway(connManager, nil)
	escalation := services.NewEscalationService(store, gateway, connManager, nil, nil, 0)
	escalation.SetOnAcknowledged(arbiter.OnAcknowledged)
	arbiter.Bind(countdown, []services.SignalSource{location, motion, bluetooth},
		escalation, connManager, nil)
	arbiter.Start()
	t.Cleanup(func() {
		escalation.Stop()
		arbiter.Stop()
	})

	presets := services.NewPresetService("")

	app := fiber.New()
	sessionHandler := NewSessionHandler(arbiter, store, presets)
	signalHandler := NewSignalHandler(location, motion, bluetooth)
	actionHandler := NewActionHandler(escalation, arbiter)
	presetHandler := NewPresetHandler(presets)
	healthHandler := NewHealthHandler(connManager, arbiter, nil)

	app.Get("/health", healthHandler.Handle)
	app.Get("/api/presets", presetHandler.List)
	app.Post("/api/sessions", sessionHandler.Create)
	app.Get("/api/sessions", sessionHandler.List)
	app.Get("/api/sessions/active", sessionHandler.Active)
	app.Get("/api/sessions/:id", sessionHandler.Get)
	app.Post("/api/sessions/:id/end", sessionHandler.End)
	app.Post("/api/sessions/:id/extend", sessionHandler.Extend)
	app.Post("/api/signals/motion", signalHandler.Motion)
	app.Post("/api/signals/bluetooth", signalHandler.Bluetooth)
	app.Post("/api/signals/authorization", signalHandler.Authorization)
	app.Post("/api/actions", actionHandler.Handle)

	return &testEnv{
		app:        app,
		store:      store,
		arbiter:    arbiter,
		escalation: escalation,
		presets:    presets,
	}
}

func request(t *testing.T, app *fiber.App, method, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	var result map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("Failed to parse JSON response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, result
}

func startSession(t *testing.T, env *testEnv, durationSeconds int) string {
	t.Helper()
	status, body := request(t, env.app, "POST", "/api/sessions", models.CreateSessionRequest{
		Preset:          "cafe",
		DurationSeconds: durationSeconds,
		Checklist: []models.ChecklistItemRequest{
			{Title: "Laptop"},
		},
	})
	if status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d (%v)", status, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("Expected session id in response")
	}
	return id
}

func TestHealthHandler(t *testing.T) {
	env := setupTestApp(t)

	status, body := request(t, env.app, "GET", "/health", nil)
	if status != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
	if body["state"] != "idle" {
		t.Errorf("Expected state 'idle', got %v", body["state"])
	}
	if body["connections"] == nil {
		t.Error("Expected 'connections' field in response")
	}
}

func TestPresetHandlerList(t *testing.T) {
	env := setupTestApp(t)

	status, body := request(t, env.app, "GET", "/api/presets", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	presets, ok := body["presets"].([]interface{})
	if !ok || len(presets) != len(models.DefaultPresets) {
		t.Errorf("Expected %d presets, got %v", len(models.DefaultPresets), body["presets"])
	}
}

func TestSessionHandlerCreate(t *testing.T) {
	env := setupTestApp(t)

	id := startSession(t, env, 3600)

	status, body := request(t, env.app, "GET", "/api/sessions/"+id, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if body["is_active"] != true {
		t.Error("Expected session active")
	}
	items, _ := body["checklist_items"].([]interface{})
	if len(items) != 1 {
		t.Errorf("Expected 1 checklist item, got %d", len(items))
	}

	// Only one session at a time
	status, _ = request(t, env.app, "POST", "/api/sessions", models.CreateSessionRequest{
		Preset:          "ride",
		DurationSeconds: 600,
	})
	if status != fiber.StatusConflict {
		t.Errorf("Expected status 409 for second session, got %d", status)
	}
}

func TestSessionHandlerCreateRejectsUnknownPreset(t *testing.T) {
	env := setupTestApp(t)

	status, _ := request(t, env.app, "POST", "/api/sessions", models.CreateSessionRequest{
		Preset:          "gym",
		DurationSeconds: 600,
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown preset, got %d", status)
	}
}

func TestSessionHandlerEndAndActive(t *testing.T) {
	env := setupTestApp(t)
	id := startSession(t, env, 3600)

	status, body := request(t, env.app, "GET", "/api/sessions/active", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200 for active session, got %d", status)
	}
	if body["id"] != id {
		t.Errorf("Expected active session %s, got %v", id, body["id"])
	}

	status, body = request(t, env.app, "POST", "/api/sessions/"+id+"/end", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if body["end_signal"] != "manual" {
		t.Errorf("Expected end_signal manual, got %v", body["end_signal"])
	}

	status, _ = request(t, env.app, "GET", "/api/sessions/active", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 after end, got %d", status)
	}
}

func TestSessionHandlerExtend(t *testing.T) {
	env := setupTestApp(t)
	id := startSession(t, env, 600)

	status, _ := request(t, env.app, "POST", "/api/sessions/"+id+"/extend",
		models.ExtendSessionRequest{AdditionalSeconds: 300})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	active := env.arbiter.ActiveSession()
	if active.PlannedDuration.Seconds() != 900 {
		t.Errorf("Expected planned duration 900s, got %v", active.PlannedDuration)
	}

	status, _ = request(t, env.app, "POST", "/api/sessions/"+id+"/extend",
		models.ExtendSessionRequest{AdditionalSeconds: 0})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for non-positive extension, got %d", status)
	}

	request(t, env.app, "POST", "/api/sessions/"+id+"/end", nil)
	status, _ = request(t, env.app, "POST", "/api/sessions/"+id+"/extend",
		models.ExtendSessionRequest{AdditionalSeconds: 300})
	if status != fiber.StatusConflict {
		t.Errorf("Expected status 409 extending an ended session, got %d", status)
	}
}

func TestSignalHandlerValidation(t *testing.T) {
	env := setupTestApp(t)

	status, _ := request(t, env.app, "POST", "/api/signals/bluetooth", models.BluetoothReading{
		SessionID: "s1",
		Connected: false,
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for missing device_id, got %d", status)
	}

	status, _ = request(t, env.app, "POST", "/api/signals/motion", models.MotionReading{
		SessionID: "s1",
		Category:  models.MotionWalking,
	})
	if status != fiber.StatusOK {
		t.Errorf("Expected status 200 for motion reading, got %d", status)
	}

	status, _ = request(t, env.app, "POST", "/api/signals/authorization", models.AuthorizationRequest{
		Source: "location",
		State:  "maybe",
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown state, got %d", status)
	}

	status, _ = request(t, env.app, "POST", "/api/signals/authorization", models.AuthorizationRequest{
		Source: "location",
		State:  "authorized",
	})
	if status != fiber.StatusOK {
		t.Errorf("Expected status 200 for authorization update, got %d", status)
	}
}

func TestActionHandlerExtendAndEndNow(t *testing.T) {
	env := setupTestApp(t)
	id := startSession(t, env, 1800)

	status, _ := request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID: id,
		Action:    "extend",
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for extend without duration, got %d", status)
	}

	status, body := request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID:       id,
		Action:          "extend",
		DurationSeconds: 300,
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200 for extend, got %d (%v)", status, body)
	}
	if body["action"] != "extend" {
		t.Errorf("Expected action extend in response, got %v", body["action"])
	}

	status, _ = request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID: id,
		Action:    "end_now",
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200 for end_now, got %d", status)
	}

	session, err := env.store.Get(id)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if session.IsActive {
		t.Error("Expected session to be inactive after end_now")
	}
	if session.EndSignal != models.EndSignalManual {
		t.Errorf("Expected manual end signal, got %q", session.EndSignal)
	}

	status, _ = request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID:       id,
		Action:          "extend",
		DurationSeconds: 300,
	})
	if status != fiber.StatusConflict {
		t.Errorf("Expected status 409 for extend after end, got %d", status)
	}
}

func TestActionHandlerUnknownSession(t *testing.T) {
	env := setupTestApp(t)

	status, _ := request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID: "no-such-session",
		Action:    "snooze",
	})
	if status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for unknown session, got %d", status)
	}

	status, _ = request(t, env.app, "POST", "/api/actions", models.ActionRequest{
		SessionID: "",
		Action:    "",
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for missing fields, got %d", status)
	}
}
