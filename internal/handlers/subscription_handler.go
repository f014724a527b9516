package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/identity"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

type SubscriptionHandler struct {
	subscriptionService *services.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// Status serves the cached snapshot; ?refresh=true re-reads the provider.
func (h *SubscriptionHandler) Status(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	status, err := h.subscriptionService.Status(c.UserContext(), user.ID, c.QueryBool("refresh", false))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

func (h *SubscriptionHandler) Plans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": h.subscriptionService.Plans(c.UserContext())})
}

func (h *SubscriptionHandler) Checkout(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	var req dto.CheckoutRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	url, err := h.subscriptionService.CreateCheckout(c.UserContext(), user, req.PlanType)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.CheckoutResponse{CheckoutURL: url})
}

func (h *SubscriptionHandler) Portal(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	url, err := h.subscriptionService.BillingPortal(c.UserContext(), user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PortalResponse{PortalURL: url})
}
