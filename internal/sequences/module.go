// Package sequences manages message sequences, their stages and sending
// windows.
package sequences

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/http"
	"dripline_backend/internal/sequences/handler"
	"dripline_backend/internal/sequences/repository"
	"dripline_backend/internal/sequences/service"
	"dripline_backend/platform/logger"
	"dripline_backend/platform/validator"
)

// Module wires the sequences feature.
type Module struct {
	handler *handler.Handler
	Service *service.Service
	Repo    repository.Repository
}

// NewModule creates the sequences module.
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
func (m *Module) Name() string { return "sequences" }

// RegisterRoutes registers the admin routes for sequences, stages and
// restrictions.
func (m *Module) RegisterRoutes(rc *http.RouterContext) {
	sequences := rc.Admin.Group("/sequences")
	sequences.POST("", m.handler.Create)
	sequences.GET("/:id", m.handler.Get)
	sequences.PUT("/:id", m.handler.Update)
	sequences.PATCH("/:id", m.handler.SetActive)
	sequences.DELETE("/:id", m.handler.Delete)
	sequences.PUT("/:id/stages", m.handler.ReplaceStages)

	rc.Admin.GET("/instances/:id/sequences", m.handler.ListByInstance)

	rc.Admin.GET("/clients/:id/restrictions", m.handler.ListRestrictions)
	rc.Admin.POST("/clients/:id/restrictions", m.handler.CreateRestriction)
	rc.Admin.PUT("/clients/:id/restrictions/:restrictionId", m.handler.UpdateRestriction)
	rc.Admin.DELETE("/clients/:id/restrictions/:restrictionId", m.handler.DeleteRestriction)
}
