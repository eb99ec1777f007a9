package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/domain"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// RequireAuthenticated allows any established identity.
func RequireAuthenticated(p Principal) error {
	if p.IsAnonymous() {
		return apperrors.NewUnauthorized("authentication required")
	}
	return nil
}

// RequireRole performs a flat equality check against the required role.
// Administrators pass any role check; that is an explicit rule, not a
// hierarchy.
func RequireRole(p Principal, role domain.Role) error {
	if p.IsAnonymous() {
		return apperrors.NewUnauthorized("authentication required")
	}
	if p.Role == role || p.Role == domain.RoleAdmin {
		return nil
	}
	return apperrors.NewForbidden("insufficient role")
}

// Authenticated is the fiber guard for routes that need any identity.
func Authenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		if err := RequireAuthenticated(principal); err != nil {
			return err
		}
		return c.Next()
	}
}

// HasRole is the fiber guard for routes restricted to one role.
func HasRole(role domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		if err := RequireRole(principal, role); err != nil {
			return err
		}
		return c.Next()
	}
}
