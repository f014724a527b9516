package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/identity"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	resp, err := h.authService.Register(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	resp, err := h.authService.Login(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	resp, err := h.authService.Refresh(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	if err := h.authService.Logout(c.UserContext(), &req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) Google(c *fiber.Ctx) error {
	var req dto.GoogleSignInRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	resp, err := h.authService.GoogleSignIn(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// Me returns the current user including the lifetime question count.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}
	return c.JSON(services.UserResponse(user))
}

// RequestPasswordReset answers identically whether or not the email exists.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	if err := h.authService.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		slog.Error("password reset request failed", "action", "auth.reset_request", "error", err.Error())
	}
	return c.JSON(dto.MessageResponse{Message: services.PasswordResetReply})
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	if err := h.authService.ResetPassword(c.UserContext(), &req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.MessageResponse{Message: "Password has been reset"})
}
