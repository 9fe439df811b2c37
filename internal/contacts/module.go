// Package contacts manages contact records and their tag assignments.
package contacts

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/contacts/handler"
	"dripline_backend/internal/contacts/repository"
	"dripline_backend/internal/contacts/service"
	"dripline_backend/internal/events"
	"dripline_backend/internal/http"
	"dripline_backend/platform/logger"
)

// Module wires the contacts feature.
type Module struct {
	handler *handler.Handler
	Service *service.Service
	Repo    repository.Repository
}

// NewModule creates the contacts module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, creator service.CreatorResolver, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, bus, creator, log)
	return &Module{
		handler: handler.New(svc),
		Service: svc,
		Repo:    repo,
	}
}

// Name returns the module name.
func (m *Module) Name() string { return "contacts" }

// RegisterRoutes registers the admin routes for contacts.
func (m *Module) RegisterRoutes(rc *http.RouterContext) {
	rc.Admin.GET("/clients/:id/contacts", m.handler.ListByClient)

	contacts := rc.Admin.Group("/contacts")
	contacts.GET("/:id", m.handler.Get)
	contacts.DELETE("/:id", m.handler.Delete)
}
