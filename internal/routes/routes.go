package routes

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/handlers"
	"github.com/onir-world/legal-chat-backend/internal/identity"
	"github.com/onir-world/legal-chat-backend/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	Chat         *handlers.ChatHandler
	Subscription *handlers.SubscriptionHandler
	Webhook      *handlers.WebhookHandler
	Flags        *handlers.FeatureFlagHandler
	Health       *handlers.HealthHandler
}

func Setup(app *fiber.App, cfg *config.Config, users identity.UserLoader, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP. Stripe retries on its own
	// schedule, so webhooks are exempt.
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/webhook/")
		},
	}))

	api.Get("/health", h.Health.Check)
	api.Get("/system-info", h.Health.SystemInfo)
	api.Get("/feature-flags", h.Flags.List)
	api.Get("/subscription/plans", h.Subscription.Plans)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/auth/me"
		},
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/logout", h.Auth.Logout)
	auth.Post("/google", h.Auth.Google)
	auth.Post("/request-password-reset", h.Auth.RequestPasswordReset)
	auth.Post("/reset-password", h.Auth.ResetPassword)

	// Protected routes get the middleware per route so public routes under
	// the same prefix stay public.
	jwt := middleware.JWTProtected(cfg)
	user := identity.CurrentUser(users)

	api.Get("/auth/me", jwt, user, h.Auth.Me)

	api.Post("/chat", jwt, user, h.Chat.Send)
	api.Post("/chat/new", jwt, user, h.Chat.New)
	api.Get("/chat/history", jwt, user, h.Chat.History)
	api.Post("/chat/save-history", jwt, user, h.Chat.SaveHistory)
	api.Post("/clear-history", jwt, user, h.Chat.Clear)

	api.Get("/subscription/status", jwt, user, h.Subscription.Status)
	api.Post("/subscription/create-checkout-session", jwt, user, h.Subscription.Checkout)
	api.Get("/subscription/billing-portal", jwt, user, h.Subscription.Portal)
	api.Post("/subscription/billing-portal", jwt, user, h.Subscription.Portal)

	// Stripe signs the payload; no JWT.
	api.Post("/webhook/stripe", h.Webhook.HandleStripe)

	admin := api.Group("/admin", adminAuth(cfg, jwt), middleware.AdminRequired(cfg))
	admin.Put("/flags/:key", h.Flags.Set)
	admin.Delete("/flags/:key", h.Flags.Delete)
}

// adminAuth skips JWT parsing when an admin token is presented instead.
func adminAuth(cfg *config.Config, jwt fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" && c.Get("X-Admin-Token") != "" {
			return c.Next()
		}
		return jwt(c)
	}
}
