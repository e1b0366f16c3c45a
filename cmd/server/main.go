package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"lens0/internal/config"
	"lens0/internal/crypto"
	"lens0/internal/database"
	"lens0/internal/handlers"
	"lens0/internal/jobs"
	"lens0/internal/logging"
	"lens0/internal/middleware"
	"lens0/internal/profilestore"
	"lens0/internal/services"
	"lens0/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Lens0 Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DataRoot: %s)", cfg.Port, cfg.DataRoot)

	environment := os.Getenv("ENVIRONMENT")

	// MongoDB holds foundational memory and the promotion queue; the
	// server cannot run without it.
	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required")
	}
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	if err := mongoDB.Initialize(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
	}

	// Encryption of user content at rest
	if cfg.EncryptionMasterKey == "" {
		if environment == "production" {
			log.Fatal("❌ CRITICAL SECURITY ERROR: ENCRYPTION_MASTER_KEY is required in production. Generate with: openssl rand -hex 32")
		}
		log.Println("⚠️ ENCRYPTION_MASTER_KEY not set, generating an ephemeral key (development mode only)")
		key, err := crypto.GenerateMasterKey()
		if err != nil {
			log.Fatalf("❌ Failed to generate ephemeral key: %v", err)
		}
		cfg.EncryptionMasterKey = key
	}
	encryptionService, err := crypto.NewEncryptionService(cfg.EncryptionMasterKey)
	if err != nil {
		log.Fatalf("❌ Failed to initialize encryption: %v", err)
	}
	log.Println("✅ Encryption service initialized")

	// SQLite promotion audit log
	auditDB, err := database.NewAuditDB(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open audit database: %v", err)
	}
	defer auditDB.Close()
	log.Println("✅ Audit database initialized")

	// Redis is optional: promotion events and distributed rate limiting
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (event publishing disabled)", err)
			redisService = nil
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - event publishing disabled")
	}

	// Promotion rules: file when present, built-in defaults otherwise
	rules, err := config.LoadPromotionRules(cfg.PromotionRulesPath)
	if err != nil {
		log.Printf("⚠️ Promotion rules file not loaded (%v), using defaults", err)
		rules = config.DefaultPromotionRules()
	}
	log.Printf("✅ Promotion rules loaded (%d experts)", len(rules.Experts))

	// Prometheus metrics
	metrics := services.InitMetrics()
	log.Println("✅ Prometheus metrics initialized")

	// Profile store + filesystem integrity guard
	profileStore := profilestore.New(cfg.DataRoot)
	guard, err := profilestore.NewGuard(profileStore)
	if err != nil {
		log.Fatalf("❌ Failed to create profile integrity guard: %v", err)
	}
	guard.OnViolation = func(user, expert string) {
		metrics.RecordDirectWriteViolation(expert)
	}
	if err := guard.WatchAll(); err != nil {
		log.Fatalf("❌ Failed to watch existing experts directories: %v", err)
	}
	guard.Start()
	defer guard.Stop()
	log.Println("✅ Profile store and integrity guard initialized")

	// Core services
	factStorage := services.NewFactStorageService(mongoDB, encryptionService)
	hatService := services.NewHatService(30 * time.Minute)
	contextService := services.NewContextService(factStorage, profileStore, hatService, cfg.ContextCacheTTL)
	promotionService := services.NewPromotionService(
		mongoDB, factStorage, profileStore, contextService,
		encryptionService, auditDB, rules, redisService, cfg,
	)
	log.Println("✅ Core services initialized")

	// Background jobs
	scheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Register("promotion-worker", cfg.PromotionWorkerInterval, jobs.NewPromotionWorker(promotionService, redisService)); err != nil {
		log.Fatalf("❌ Failed to register promotion worker: %v", err)
	}
	if err := scheduler.Register("integrity-sweep", cfg.IntegritySweepInterval, jobs.NewIntegritySweep(profileStore)); err != nil {
		log.Fatalf("❌ Failed to register integrity sweep: %v", err)
	}
	if err := scheduler.Register("audit-retention", 24*time.Hour, jobs.NewAuditRetention(auditDB, cfg.AuditRetention)); err != nil {
		log.Fatalf("❌ Failed to register audit retention: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// JWT auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 15*time.Minute)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT auth initialized")
	} else if environment == "production" {
		log.Fatal("❌ JWT_SECRET is required in production")
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Lens0 v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    12 * 1024 * 1024, // reports up to 10MB plus multipart overhead
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("lens0")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

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

	// Global API rate limiter
	app.Use("/api", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
	}))

	// Handlers
	authHandler := handlers.NewAuthHandler(jwtAuth, environment == "production")
	healthHandler := handlers.NewHealthHandler(mongoDB, redisService)
	expertHandler := handlers.NewExpertHandler(profileStore, guard)
	hatHandler := handlers.NewHatHandler(hatService, contextService)
	contextHandler := handlers.NewContextHandler(contextService)
	factHandler := handlers.NewFactHandler(factStorage)
	promotionHandler := handlers.NewPromotionHandler(promotionService)
	artifactHandler := handlers.NewArtifactHandler(promotionService)
	chatWSHandler := handlers.NewChatWebSocketHandler(factStorage, promotionService, redisService)

	// Routes
	app.Get("/health", healthHandler.Check)
	app.Post("/api/v1/auth/token", authHandler.IssueToken)

	api := app.Group("/api/v1", middleware.LocalAuthMiddleware(jwtAuth))

	api.Post("/experts/provision", expertHandler.Provision)
	api.Get("/experts", expertHandler.List)
	api.Get("/experts/:expert", expertHandler.Get)
	api.Post("/experts/:expert/enable", expertHandler.Enable)

	api.Put("/hat", hatHandler.Set)
	api.Get("/hat", hatHandler.Get)
	api.Delete("/hat", hatHandler.Clear)

	api.Get("/context", contextHandler.Get)

	api.Post("/facts", factHandler.CreateGlobalFact)
	api.Get("/facts", factHandler.ListGlobalFacts)
	api.Delete("/facts/:id", factHandler.DeleteGlobalFact)
	api.Post("/projects/:project/facts", factHandler.CreateProjectFact)
	api.Get("/projects/:project/facts", factHandler.ListProjectFacts)
	api.Put("/identity", factHandler.UpsertIdentity)

	api.Post("/promotions", promotionHandler.Enqueue)
	api.Get("/promotions/audit", promotionHandler.Audit)
	api.Get("/promotions/:id", promotionHandler.Get)
	api.Get("/promotions", promotionHandler.List)

	api.Post("/artifacts/parse", artifactHandler.Parse)

	// WebSocket chat turn ingestion
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws/chat", middleware.LocalAuthMiddleware(jwtAuth))
	app.Get("/ws/chat", websocket.New(chatWSHandler.Handle))

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}
