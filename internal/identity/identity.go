// Package identity resolves the authenticated user of a request.
package identity

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/models"
)

const userLocal = "current_user"

// UserLoader returns an active user or an error.
type UserLoader interface {
	ActiveUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// GetUserID extracts the user UUID from JWT claims in context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil, errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, errors.New("missing sub claim")
	}

	return uuid.Parse(sub)
}

// GetEmail returns the email claim, or "" when absent.
func GetEmail(c *fiber.Ctx) string {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

// CurrentUser loads the token's user and stores it for handlers. Missing or
// inactive users get a 401 carrying no entitlement data.
func CurrentUser(loader UserLoader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := GetUserID(c)
		if err != nil {
			return unauthorized(c)
		}

		user, err := loader.ActiveUser(c.UserContext(), userID)
		if err != nil {
			return unauthorized(c)
		}

		c.Locals(userLocal, user)
		return c.Next()
	}
}

// User returns the user stored by CurrentUser, or nil.
func User(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocal).(*models.User)
	return user
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error:   true,
		Message: "Unauthorized",
		Code:    "unauthenticated",
	})
}
