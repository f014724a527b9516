package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

type WebhookHandler struct {
	subscriptionService *services.SubscriptionService
}

func NewWebhookHandler(subscriptionService *services.SubscriptionService) *WebhookHandler {
	return &WebhookHandler{subscriptionService: subscriptionService}
}

// HandleStripe verifies the Stripe-Signature header against the raw body and
// applies the event. Failures other than a bad signature return 500 so Stripe
// retries.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return badRequest(c, "Missing Stripe-Signature header")
	}

	payload := append([]byte(nil), c.Body()...)
	if err := h.subscriptionService.HandleWebhook(c.UserContext(), payload, signature); err != nil {
		if errors.Is(err, services.ErrInvalidWebhook) || errors.Is(err, services.ErrBillingUnavailable) {
			return respondError(c, err)
		}
		slog.Error("webhook processing failed", "action", "billing.webhook", "error", err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to process webhook event", Code: "internal",
		})
	}

	return c.JSON(dto.WebhookResponse{Received: true})
}
