package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-workshop-api/internal/config"
	"github.com/noah-isme/gema-workshop-api/internal/handler"
	"github.com/noah-isme/gema-workshop-api/internal/middleware"
	"github.com/noah-isme/gema-workshop-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	WorkshopHandler     *handler.WorkshopHandler
	AllocationHandler   *handler.AllocationHandler
	SubmissionHandler   *handler.SubmissionHandler
	AssessmentHandler   *handler.AssessmentHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
	HealthProbes        map[string]handler.HealthProbe
	// RateLimit caps write requests per user and minute; zero keeps the default.
	RateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	limit := deps.RateLimit
	if limit <= 0 {
		limit = 120
	}

	v2 := app.Group("/api/v2", jwtMiddleware)
	workshops := v2.Group("/workshops", middleware.RateLimit("workshops", limit, time.Minute))

	if deps.WorkshopHandler != nil {
		deps.WorkshopHandler.Register(workshops)
	}
	if deps.AllocationHandler != nil {
		deps.AllocationHandler.Register(workshops)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(workshops)
	}
	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.Register(workshops)
	}

	if deps.NotificationHandler != nil {
		notifications := v2.Group("/notifications")
		deps.NotificationHandler.Register(notifications)
	}
}
