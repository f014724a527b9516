package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/services"
	"gorm.io/gorm"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// SystemInfo is the static part of /api/system-info, filled in at startup.
type SystemInfo struct {
	Environment     string
	AnswerProviders []string
	BillingEnabled  bool
	GoogleSignIn    bool
	TrialLimit      int
}

type HealthHandler struct {
	db      *gorm.DB
	cache   interface{}
	flags   *services.FeatureFlagService
	info    SystemInfo
	started time.Time
}

// NewHealthHandler reports the cache as "memory" unless it can be pinged.
func NewHealthHandler(db *gorm.DB, cache interface{}, flags *services.FeatureFlagService, info SystemInfo) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, flags: flags, info: info, started: time.Now()}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "ok"
	if err := h.pingDB(ctx); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		status = "degraded"
	}

	cacheStatus := h.cacheKind()
	if p, ok := h.cache.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			cacheStatus = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			cacheStatus = "ok"
		}
	}

	code := fiber.StatusOK
	if dbStatus != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Cache:     cacheStatus,
	})
}

func (h *HealthHandler) SystemInfo(c *fiber.Ctx) error {
	return c.JSON(dto.SystemInfoResponse{
		Service:              "legal-chat-backend",
		Environment:          h.info.Environment,
		GoVersion:            runtime.Version(),
		Database:             h.db.Dialector.Name(),
		Cache:                h.cacheKind(),
		AnswerProviders:      h.info.AnswerProviders,
		BillingEnabled:       h.info.BillingEnabled,
		GoogleSignIn:         h.info.GoogleSignIn,
		TrialLimit:           h.info.TrialLimit,
		SubscriptionDisabled: h.flags.SubscriptionDisabled(c.UserContext()),
		Uptime:               time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *HealthHandler) cacheKind() string {
	if _, ok := h.cache.(pinger); ok {
		return "redis"
	}
	return "memory"
}
