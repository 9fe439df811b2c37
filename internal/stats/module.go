// Package stats tracks per-instance daily engine activity.
package stats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/events"
	apphttp "dripline_backend/internal/http"
	"dripline_backend/internal/stats/repository"
	"dripline_backend/internal/stats/service"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/logger"
)

// Module wires the stats feature.
type Module struct {
	Service *service.Service
}

// NewModule creates the stats module and subscribes it to the event bus.
func NewModule(pool *pgxpool.Pool, instances service.InstanceLister, bus events.Bus, log *logger.Logger) *Module {
	svc := service.New(repository.New(pool), instances, log)
	svc.Subscribe(bus)
	return &Module{Service: svc}
}

// Name returns the module name.
func (m *Module) Name() string { return "stats" }

// RegisterRoutes registers the admin stats endpoint.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	rc.Admin.GET("/instances/:id/stats", m.getRange)
}

// statResponse is one instance-day of counters.
type statResponse struct {
	Date               string `json:"date"`
	NewContacts        int    `json:"newContacts"`
	MessagesScheduled  int    `json:"messagesScheduled"`
	MessagesSent       int    `json:"messagesSent"`
	MessagesFailed     int    `json:"messagesFailed"`
	SequencesCompleted int    `json:"sequencesCompleted"`
}

// getRange handles GET /admin/instances/:id/stats?from=...&to=... with
// dates in YYYY-MM-DD. Defaults to the last 30 days.
func (m *Module) getRange(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid instance id"))
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			httpkit.HandleError(c, apperr.Validation("invalid from date"))
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			httpkit.HandleError(c, apperr.Validation("invalid to date"))
			return
		}
	}

	stats, err := m.Service.Range(c.Request.Context(), instanceID, from, to)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	responses := make([]statResponse, len(stats))
	for i, s := range stats {
		responses[i] = statResponse{
			Date:               s.Date.Format("2006-01-02"),
			NewContacts:        s.NewContacts,
			MessagesScheduled:  s.MessagesScheduled,
			MessagesSent:       s.MessagesSent,
			MessagesFailed:     s.MessagesFailed,
			SequencesCompleted: s.SequencesCompleted,
		}
	}
	httpkit.JSON(c, http.StatusOK, responses)
}
