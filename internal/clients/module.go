// Package clients manages client accounts and their messaging instances.
package clients

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/clients/handler"
	"dripline_backend/internal/clients/repository"
	"dripline_backend/internal/clients/service"
	"dripline_backend/internal/http"
	"dripline_backend/platform/logger"
	"dripline_backend/platform/validator"
)

// Module wires the clients feature.
type Module struct {
	handler *handler.Handler
	Service *service.Service
	Repo    repository.Repository
}

// NewModule creates the clients module.
func NewModule(pool *pgxpool.Pool, log *logger.Logger, validate *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, log)
	return &Module{
		handler: handler.New(svc, validate),
		Service: svc,
		Repo:    repo,
	}
}

// Name returns the module name.
func (m *Module) Name() string { return "clients" }

// RegisterRoutes registers the admin routes for clients and instances.
func (m *Module) RegisterRoutes(rc *http.RouterContext) {
	clients := rc.Admin.Group("/clients")
	clients.GET("", m.handler.List)
	clients.GET("/:id", m.handler.Get)
	clients.PUT("/:id", m.handler.Update)
	clients.DELETE("/:id", m.handler.Delete)
	clients.POST("/:id/token", m.handler.RotateToken)
	clients.GET("/:id/instances", m.handler.ListInstances)
	clients.POST("/:id/instances", m.handler.CreateInstance)

	instances := rc.Admin.Group("/instances")
	instances.PATCH("/:id", m.handler.SetInstanceActive)
	instances.DELETE("/:id", m.handler.DeleteInstance)
}
