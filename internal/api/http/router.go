package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Incidents      *handlers.IncidentsHandler
	Queues         *handlers.QueuesHandler
	ChangeRequests *handlers.ChangeRequestsHandler
	Recurrence     *handlers.RecurrenceHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Staff.Login)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireStaffRole())

	supervisorUp := auth.RequireStaffRole(domain.StaffRoleSupervisor, domain.StaffRoleAdmin)

	api.Post("/staff", auth.RequireStaffRole(domain.StaffRoleAdmin), cfg.Staff.Register)

	api.Post("/incidents", cfg.Incidents.Create)
	api.Get("/incidents/:id", cfg.Incidents.Get)
	api.Get("/incidents/:id/history", cfg.Incidents.History)
	api.Post("/incidents/:id/transitions", cfg.Incidents.Transition)
	api.Post("/incidents/:id/observations", cfg.Incidents.AddObservation)

	api.Get("/queues", cfg.Queues.Depths)
	api.Get("/queues/:groupID", cfg.Queues.Queue)
	api.Post("/queues/:groupID/assign", cfg.Queues.Assign)
	api.Post("/incidents/:id/reassign", supervisorUp, cfg.Queues.Reassign)
	api.Post("/incidents/:id/unassign", cfg.Queues.Unassign)

	api.Post("/incidents/:id/change-requests", cfg.ChangeRequests.Submit)
	api.Get("/incidents/:id/change-requests", cfg.ChangeRequests.ListByIncident)
	api.Post("/change-requests/:id/resolve", supervisorUp, cfg.ChangeRequests.Resolve)

	api.Get("/incidents/:id/recurrence/candidates", cfg.Recurrence.Candidates)
	api.Post("/incidents/:id/recurrence/verification", supervisorUp, cfg.Recurrence.Record)
	api.Get("/recurrence/pending", supervisorUp, cfg.Recurrence.Pending)
}
