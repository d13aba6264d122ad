package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-backend/internal/api/dto"
	"github.com/spec-kit/auth-backend/internal/auth"
	"github.com/spec-kit/auth-backend/internal/service"
	apperrors "github.com/spec-kit/auth-backend/pkg/util"
)

// AuthHandler exposes the /api/auth endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	user, token, exp, err := h.auth.Register(c.UserContext(), req.Username, req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}

	return c.JSON(dto.AuthResponse{
		Token:     token,
		Username:  user.Username,
		Email:     user.Email,
		ExpiresAt: exp,
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	user, token, exp, err := h.auth.Login(c.UserContext(), req.Username, req.Password, c.IP())
	if err != nil {
		return err
	}

	return c.JSON(dto.AuthResponse{
		Token:     token,
		Username:  user.Username,
		Email:     user.Email,
		ExpiresAt: exp,
	})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("authentication required")
	}

	user, err := h.auth.GetUserByUsername(c.UserContext(), principal.User.Username)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": dto.UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	}})
}

// Test handles GET /api/auth/test.
func (h *AuthHandler) Test(c *fiber.Ctx) error {
	return c.SendString("Backend is running!")
}
