package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/onir-world/legal-chat-backend/internal/billing"
	"github.com/onir-world/legal-chat-backend/internal/cache"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/database"
	"github.com/onir-world/legal-chat-backend/internal/handlers"
	"github.com/onir-world/legal-chat-backend/internal/logging"
	"github.com/onir-world/legal-chat-backend/internal/mailer"
	"github.com/onir-world/legal-chat-backend/internal/middleware"
	"github.com/onir-world/legal-chat-backend/internal/rag"
	"github.com/onir-world/legal-chat-backend/internal/routes"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	stdout := logging.Setup(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" && cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD or DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// ERROR+ records also go to system_logs (async batch)
	dbLogHandler := logging.AttachDatabase(stdout, database.DB)

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, logging.DefaultRetention, cleanupDone)

	ctx := context.Background()

	// Subscription snapshot cache: Redis when configured, in-process otherwise
	var store cache.Store = cache.NewMemoryStore()
	var redisStore *cache.RedisStore
	if cfg.RedisAddr != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			redisStore = rs
			store = rs
			slog.Info("redis cache connected", "addr", cfg.RedisAddr)
		}
	}

	var billingProvider billing.Provider
	if cfg.StripeSecretKey != "" {
		billingProvider = billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set, billing endpoints disabled")
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	pipeline := rag.FromConfig(cfg)
	if pipeline.Len() == 0 {
		slog.Warn("no answer provider configured, chat requests will fail with 502")
	}
	var answerer rag.Pipeline = pipeline
	if cfg.RAGRateLimit > 0 {
		answerer = rag.NewThrottled(pipeline, cfg.RAGRateLimit, cfg.RAGRateBurst)
	}

	// Services
	flagService := services.NewFeatureFlagService(database.DB, cfg.SubscriptionDisabled)
	if err := flagService.SeedDefaults(ctx); err != nil {
		slog.Error("feature flag seeding failed", "error", err)
		os.Exit(1)
	}

	authService := services.NewAuthService(database.DB, cfg, mail)
	gate := services.NewEntitlementGate(database.DB, cfg.TrialLimit, flagService)
	conversationService := services.NewConversationService(database.DB)
	chatService := services.NewChatService(gate, conversationService, answerer, cfg.RAGTimeout, cfg.HistoryTurns)
	subscriptionService := services.NewSubscriptionService(database.DB, billingProvider, store, flagService, cfg)

	// Handlers
	h := routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService),
		Chat:         handlers.NewChatHandler(chatService, conversationService),
		Subscription: handlers.NewSubscriptionHandler(subscriptionService),
		Webhook:      handlers.NewWebhookHandler(subscriptionService),
		Flags:        handlers.NewFeatureFlagHandler(flagService),
		Health: handlers.NewHealthHandler(database.DB, store, flagService, handlers.SystemInfo{
			Environment:     cfg.AppEnv,
			AnswerProviders: pipeline.Names(),
			BillingEnabled:  billingProvider != nil,
			GoogleSignIn:    cfg.GoogleClientID != "",
			TrialLimit:      cfg.TrialLimit,
		}),
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
		ReadTimeout:  15 * time.Second,
		// chat requests wait on the answer pipeline
		WriteTimeout: cfg.RAGTimeout + 15*time.Second,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, authService, h)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv, "trial_limit", cfg.TrialLimit)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(cfg.RAGTimeout + 5*time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	close(cleanupDone)
	dbLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error(),
			"request_id", c.Locals("requestid"))
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
