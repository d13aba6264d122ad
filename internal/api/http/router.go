package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-backend/internal/api/http/handlers"
	"github.com/spec-kit/auth-backend/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/api/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Get("/test", cfg.Auth.Test)

	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Auth.Me)
}
