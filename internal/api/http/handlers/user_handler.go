package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/dto"
	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/service"
)

// UserHandler exposes profile endpoints for the authenticated subject.
type UserHandler struct {
	users *service.UserService
	auth  *service.AuthService
}

// NewUserHandler constructs handler.
func NewUserHandler(userService *service.UserService, authService *service.AuthService) *UserHandler {
	return &UserHandler{users: userService, auth: authService}
}

// Profile handles GET /api/user/profile.
func (h *UserHandler) Profile(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	user, err := h.users.GetProfile(c.Context(), principal.Subject)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": profileResponse(user)})
}

// Update handles PUT /api/user/update.
func (h *UserHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	principal, _ := auth.PrincipalFromContext(c)
	user, err := h.users.UpdateProfile(c.Context(), principal.Subject, req.Username)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": profileResponse(user)})
}

// Delete handles DELETE /api/user/delete.
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	if err := h.users.DeleteAccount(c.Context(), principal.Subject); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "account deleted"}})
}

// ChangePassword handles POST /api/user/change-password.
func (h *UserHandler) ChangePassword(c *fiber.Ctx) error {
	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return fiber.NewError(http.StatusBadRequest, "old_password and new_password required")
	}

	principal, _ := auth.PrincipalFromContext(c)
	if err := h.auth.ChangePassword(c.Context(), principal.Subject, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "password changed"}})
}

func profileResponse(user *domain.User) dto.ProfileResponse {
	return dto.ProfileResponse{
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
	}
}

// bearerToken extracts the raw token from the Authorization header, or ""
// when the header is absent or not a bearer credential.
func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
