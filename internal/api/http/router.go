package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/http/handlers"
	"github.com/spec-kit/auth-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Users          *handlers.UserHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes. The identity middleware runs on every
// /api route and resolves the bearer token to a principal; route guards
// decide whether anonymous is acceptable.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api", cfg.AuthMiddleware.Handle)

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/password/reset/request", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)

	userGroup := api.Group("/user", auth.Authenticated())
	userGroup.Get("/profile", cfg.Users.Profile)
	userGroup.Put("/update", cfg.Users.Update)
	userGroup.Delete("/delete", cfg.Users.Delete)
	userGroup.Post("/change-password", cfg.Users.ChangePassword)
}
