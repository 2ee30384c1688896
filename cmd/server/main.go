package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"seatcheck/internal/config"
	"seatcheck/internal/database"
	"seatcheck/internal/handlers"
	"seatcheck/internal/jobs"
	"seatcheck/internal/logging"
	"seatcheck/internal/middleware"
	"seatcheck/internal/services"
	"seatcheck/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting SeatCheck Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// SQLite database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	store := database.NewSessionStore(db)

	// Device pairing auth (optional in development)
	var jwtAuth *auth.DeviceJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewDeviceJWTAuth(cfg.JWTSecret, cfg.TokenExpiry)
		if err != nil {
			log.Fatalf("❌ Failed to initialize device auth: %v", err)
		}
		log.Println("✅ Device auth initialized")
	} else {
		if os.Getenv("ENVIRONMENT") == "production" {
			log.Fatal("❌ JWT_SECRET is required in production")
		}
		log.Println("⚠️  JWT_SECRET not set - device auth disabled (development mode only)")
	}

	// Core engine wiring. The arbiter is built first: every producer needs it
	// as its event sink.
	connManager := services.NewConnectionManager()
	metrics := services.InitMetrics(connManager)

	arbiter := services.NewArbiter(store)
	countdown := services.NewCountdownService(arbiter, services.NewNoopExecutionHold())
	locationSource := services.NewLocationSource(arbiter)
	motionSource := services.NewMotionSource(arbiter)
	bluetoothSource := services.NewBluetoothSource(arbiter)

	// Optional Redis relay for cross-instance alert delivery
	var relay *services.AlertRelay
	if cfg.RedisURL != "" {
		relay, err = services.NewAlertRelay(cfg.RedisURL, uuid.New().String(), connManager)
		if err != nil {
			log.Printf("⚠️  Redis relay unavailable, continuing without it: %v", err)
			relay = nil
		} else if err := relay.Start(); err != nil {
			log.Printf("⚠️  Failed to start Redis relay: %v", err)
			relay.Stop()
			relay = nil
		}
	}

	gateway := services.NewWebSocketGateway(connManager, relay)

	reminders, err := services.NewReminderScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create reminder scheduler: %v", err)
	}
	reminders.Start()

	escalation := services.NewEscalationService(store, gateway, connManager, reminders, metrics, cfg.MaxAlertRepeats)
	escalation.SetOnAcknowledged(arbiter.OnAcknowledged)

	sources := []services.SignalSource{locationSource, motionSource, bluetoothSource}
	arbiter.Bind(countdown, sources, escalation, connManager, metrics)
	arbiter.Start()

	// Pick up where a crashed or restarted process left off
	if err := arbiter.Recover(); err != nil {
		log.Printf("⚠️  Session recovery failed: %v", err)
	}

	// Preset catalog with hot reload
	presetService := services.NewPresetService(cfg.PresetsPath)
	if cfg.PresetsPath != "" {
		go presetService.Watch()
	}

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register("expiry_sweeper", jobs.NewExpirySweeperJob(arbiter, 30*time.Second))
	retentionJob, err := jobs.NewRetentionCleanupJob(store, cfg.RetentionDays, cfg.RetentionCron)
	if err != nil {
		log.Fatalf("❌ Invalid retention configuration: %v", err)
	}
	jobScheduler.Register("retention_cleanup", retentionJob)
	if err := jobScheduler.Start(); err != nil {
		log.Fatalf("❌ Failed to start job scheduler: %v", err)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "SeatCheck v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // sensor readings and checklists are small
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("seatcheck")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Pairing attempts are the only unauthenticated writes; throttle them hard
	app.Use("/api/pair", limiter.New(limiter.Config{
		Max:        10,
		Expiration: time.Minute,
	}))

	// Handlers
	healthHandler := handlers.NewHealthHandler(connManager, arbiter, relay)
	pairHandler := handlers.NewPairHandler(jwtAuth, cfg.PairingCodeHash)
	sessionHandler := handlers.NewSessionHandler(arbiter, store, presetService)
	signalHandler := handlers.NewSignalHandler(locationSource, motionSource, bluetoothSource)
	actionHandler := handlers.NewActionHandler(escalation, arbiter)
	scanHandler := handlers.NewScanHandler(store)
	presetHandler := handlers.NewPresetHandler(presetService)
	wsHandler := handlers.NewWebSocketHandler(connManager, arbiter, escalation, metrics)

	// Public routes
	app.Get("/health", healthHandler.Handle)
	app.Post("/api/pair", pairHandler.Pair)

	// Authenticated API
	api := app.Group("/api", middleware.DeviceAuthMiddleware(jwtAuth))

	api.Get("/presets", presetHandler.List)

	api.Post("/sessions", sessionHandler.Create)
	api.Get("/sessions", sessionHandler.List)
	api.Get("/sessions/active", sessionHandler.Active)
	api.Get("/sessions/:id", sessionHandler.Get)
	api.Post("/sessions/:id/end", sessionHandler.End)
	api.Post("/sessions/:id/extend", sessionHandler.Extend)
	api.Post("/sessions/:id/pause", sessionHandler.Pause)
	api.Post("/sessions/:id/resume", sessionHandler.Resume)
	api.Delete("/sessions/:id", sessionHandler.Delete)
	api.Post("/sessions/:id/items", sessionHandler.AddItem)
	api.Put("/sessions/:id/items/:itemID", sessionHandler.CollectItem)

	api.Post("/signals/location", signalHandler.Location)
	api.Post("/signals/motion", signalHandler.Motion)
	api.Post("/signals/bluetooth", signalHandler.Bluetooth)
	api.Post("/signals/authorization", signalHandler.Authorization)

	api.Post("/actions", actionHandler.Handle)
	api.Post("/scan/items", scanHandler.AddItems)

	// WebSocket route (requires auth)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}
	app.Use("/ws/session", middleware.DeviceAuthMiddleware(jwtAuth))
	app.Get("/ws/session", websocket.New(wsHandler.Handle, wsConfig))

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 WebSocket endpoint: ws://localhost:%s/ws/session", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: expiry sweep (30s), retention cleanup (cron %s)", cfg.RetentionCron)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()
		escalation.Stop()
		arbiter.Stop()
		reminders.Stop()
		if relay != nil {
			relay.Stop()
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
