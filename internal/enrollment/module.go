// Package enrollment drives contacts through sequences: tag-change
// evaluation, message scheduling and the delivery feedback loop.
package enrollment

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/enrollment/handler"
	"dripline_backend/internal/enrollment/repository"
	"dripline_backend/internal/enrollment/service"
	"dripline_backend/internal/events"
	"dripline_backend/internal/http"
	"dripline_backend/platform/logger"
	"dripline_backend/platform/validator"
)

// Deps are the cross-module dependencies of the enrollment engine.
type Deps struct {
	Sequences service.SequenceSource
	Windows   service.WindowChecker
	Contacts  service.ContactSource
	Instances service.InstanceSource
	Retries   service.RetryScheduler
	Auth      service.Authenticator
	Clients   service.ClientResolver
	Resolver  service.ContactResolver
	Webhooks  service.WebhookResolver
	Config    service.EngineConfig
}

// Module wires the enrollment feature.
type Module struct {
	events *handler.EventsHandler
	admin  *handler.AdminHandler
	Engine *service.Engine
	Repo   repository.Repository
}

// NewModule creates the enrollment module.
func NewModule(pool *pgxpool.Pool, deps Deps, bus events.Bus, log *logger.Logger, validate *validator.Validator) *Module {
	repo := repository.New(pool)
	engine := service.NewEngine(repo, deps.Sequences, deps.Contacts, deps.Instances,
		deps.Windows, deps.Retries, deps.Config, bus, log)
	ingest := service.NewIngest(deps.Auth, deps.Clients, deps.Resolver, deps.Webhooks, engine, log)

	return &Module{
		events: handler.NewEvents(ingest, engine, deps.Auth, validate),
		admin:  handler.NewAdmin(engine, validate),
		Engine: engine,
		Repo:   repo,
	}
}

// Name returns the module name.
func (m *Module) Name() string { return "enrollment" }

// RegisterRoutes mounts the event surface on /api/v1 and the enrollment
// admin endpoints under /api/v1/admin.
func (m *Module) RegisterRoutes(rc *http.RouterContext) {
	limited := rc.V1.Group("")
	limited.Use(rc.EventRateLimiter.RateLimit())
	limited.POST("/events/tag-change", m.events.TagChange)
	limited.POST("/webhooks/trigger", m.events.Trigger)

	rc.V1.GET("/messages/pending", m.events.PendingMessages)
	rc.V1.POST("/messages/status", m.events.DeliveryStatus)

	rc.Admin.GET("/contacts/:id/enrollments", m.admin.ListByContact)
	rc.Admin.GET("/sequences/:id/enrollments", m.admin.ListBySequence)
	rc.Admin.PATCH("/enrollments/:id", m.admin.SetStatus)
	rc.Admin.POST("/enrollments/:id/stage", m.admin.ChangeStage)
}
