package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/services"
	"github.com/onir-world/legal-chat-backend/internal/validation"
)

// parseBody decodes and validates the request body into req. It returns a
// client-facing message when the body is unusable.
func parseBody(c *fiber.Ctx, req interface{}) string {
	if err := c.BodyParser(req); err != nil {
		return "Invalid request body"
	}
	return validation.Struct(req)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: msg, Code: "invalid_request",
	})
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{services.ErrInvalidInput, fiber.StatusBadRequest, "invalid_request", ""},
	{services.ErrUnknownPlan, fiber.StatusBadRequest, "unknown_plan", ""},
	{services.ErrInvalidResetToken, fiber.StatusBadRequest, "invalid_reset_token", ""},
	{services.ErrInvalidWebhook, fiber.StatusBadRequest, "invalid_webhook", "Invalid webhook signature or payload"},
	{services.ErrUnauthenticated, fiber.StatusUnauthorized, "unauthenticated", ""},
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials", ""},
	{services.ErrInvalidToken, fiber.StatusUnauthorized, "invalid_token", ""},
	{services.ErrGoogleToken, fiber.StatusUnauthorized, "invalid_token", "Invalid Google ID token"},
	{services.ErrUserInactive, fiber.StatusUnauthorized, "unauthenticated", ""},
	{services.ErrUserNotFound, fiber.StatusUnauthorized, "unauthenticated", ""},
	{services.ErrNoSubscription, fiber.StatusForbidden, "no_subscription", ""},
	{services.ErrConversationNotFound, fiber.StatusNotFound, "conversation_not_found", ""},
	{services.ErrFlagNotFound, fiber.StatusNotFound, "flag_not_found", ""},
	{services.ErrEmailTaken, fiber.StatusConflict, "email_taken", ""},
	{services.ErrDownstreamUnavailable, fiber.StatusBadGateway, "answer_unavailable", "The answer service is unavailable, please retry"},
	{services.ErrBillingProvider, fiber.StatusBadGateway, "billing_unavailable", "The billing provider is unavailable, please retry"},
	{services.ErrGoogleNotConfigured, fiber.StatusServiceUnavailable, "not_configured", ""},
	{services.ErrBillingUnavailable, fiber.StatusServiceUnavailable, "not_configured", ""},
	{services.ErrDownstreamTimeout, fiber.StatusGatewayTimeout, "answer_timeout", "The answer service timed out, please retry"},
}

// respondError maps service errors onto HTTP statuses. Anything unmapped is a
// 500 with a generic message.
func respondError(c *fiber.Ctx, err error) error {
	var denied *services.EntitlementError
	if errors.As(err, &denied) {
		return c.Status(fiber.StatusForbidden).JSON(dto.EntitlementErrorResponse{
			Error:         true,
			Message:       entitlementMessage(denied.Reason),
			Code:          denied.Reason,
			Reason:        denied.Reason,
			QuestionsUsed: denied.QuestionsUsed,
			TrialLimit:    denied.TrialLimit,
			UpgradePath:   services.UpgradePath,
		})
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		if m.status >= fiber.StatusInternalServerError {
			slog.Warn("request failed", "path", c.Path(), "status", m.status, "error", err.Error())
		}
		return c.Status(m.status).JSON(dto.ErrorResponse{Error: true, Message: msg, Code: m.code})
	}

	slog.Error("unhandled request error", "path", c.Path(), "method", c.Method(), "error", err.Error())
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error", Code: "internal",
	})
}

func entitlementMessage(reason string) string {
	if reason == services.ReasonSubscriptionExpired {
		return "Your subscription has expired. Renew it to keep asking questions."
	}
	return "You have used all your free questions. Subscribe to keep asking questions."
}
