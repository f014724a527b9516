package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

type FeatureFlagHandler struct {
	flags *services.FeatureFlagService
}

func NewFeatureFlagHandler(flags *services.FeatureFlagService) *FeatureFlagHandler {
	return &FeatureFlagHandler{flags: flags}
}

// List returns every flag (public).
func (h *FeatureFlagHandler) List(c *fiber.Ctx) error {
	values, err := h.flags.All(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FeatureFlagsResponse{
		SubscriptionDisabled: h.flags.SubscriptionDisabled(c.UserContext()),
		Flags:                values,
	})
}

// Set creates or updates a flag (admin only)
func (h *FeatureFlagHandler) Set(c *fiber.Ctx) error {
	var req dto.SetFlagRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	flag, err := h.flags.Set(c.UserContext(), c.Params("key"), req.Value, req.Type)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(flag)
}

func (h *FeatureFlagHandler) Delete(c *fiber.Ctx) error {
	if err := h.flags.Delete(c.UserContext(), c.Params("key")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
