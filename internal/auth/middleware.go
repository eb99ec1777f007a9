package auth

import (
	"github.com/gofiber/fiber/v2"
)

const principalKey = "auth_principal"

// Middleware resolves bearer tokens into principals for every request.
type Middleware struct {
	resolver *Resolver
}

// NewMiddleware constructs middleware.
func NewMiddleware(resolver *Resolver) *Middleware {
	return &Middleware{resolver: resolver}
}

// Handle resolves the request identity and stores it in locals. An invalid
// token is equivalent to no token; route guards decide whether anonymous is
// acceptable.
func (m *Middleware) Handle(c *fiber.Ctx) error {
	principal := m.resolver.Resolve(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the resolved identity. The second return
// is false when the middleware did not run.
func PrincipalFromContext(c *fiber.Ctx) (Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return Anonymous(), false
	}
	principal, ok := val.(Principal)
	if !ok {
		return Anonymous(), false
	}
	return principal, true
}
