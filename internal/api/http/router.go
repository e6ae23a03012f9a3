package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicdesk/grievance-service/internal/api/http/handlers"
	"github.com/civicdesk/grievance-service/internal/auth"
	"github.com/civicdesk/grievance-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Workers        *handlers.WorkersHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Role guards here are coarse; per-ticket
// ownership and transition rules are enforced by the lifecycle manager.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api", cfg.AuthMiddleware.Handle)

	api.Post("/tickets", auth.RequireRole(domain.RoleCitizen), cfg.Tickets.CreateTicket)
	api.Get("/tickets", auth.RequireStaff(), cfg.Tickets.ListAll)
	api.Put("/tickets/:id", cfg.Tickets.UpdateTicket)
	api.Delete("/tickets/:id", cfg.Tickets.DeleteTicket)
	api.Get("/tickets/:id/history", cfg.Tickets.GetHistory)
	api.Get("/tickets/:id/attachment", cfg.Tickets.GetAttachment)

	api.Get("/users/:id/tickets", cfg.Tickets.ListByOwner)
	api.Delete("/users/:id", auth.RequireRole(domain.RoleSuperAdmin), cfg.Users.Purge)

	api.Get("/workers", auth.RequireStaff(), cfg.Workers.ListWorkers)
	api.Get("/workers/:id/tickets", cfg.Workers.ListAssigned)
}
