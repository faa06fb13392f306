// Package handlers contains the HTTP API. Mutating endpoints persist
// to the database first and then publish the matching event on the
// bus; publish failures are logged, never surfaced, because the row is
// already the source of truth and clients re-sync from it.
package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/harborapp/harbor/internal/auth"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"github.com/harborapp/harbor/internal/models"
	"github.com/harborapp/harbor/internal/telemetry"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	authService auth.AuthServiceInterface
	bus         bus.Publisher
	events      *telemetry.Events
}

// NewHandlers creates a new handlers instance
func NewHandlers(authService auth.AuthServiceInterface, publisher bus.Publisher) *Handlers {
	return &Handlers{
		authService: authService,
		bus:         publisher,
		events:      telemetry.NewEvents(),
	}
}

// currentUser pulls the authenticated user placed by the auth
// middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	u, ok := user.(*models.User)
	return u, ok
}

// publish sends an event on the bus, fire-and-forget. The database
// write already happened; a lost event costs a push, not the data.
func (h *Handlers) publish(ctx context.Context, evt bus.Event, err error) {
	if err != nil {
		logger.Log.Error("Build event failed", zap.Error(err))
		return
	}

	ctx, span := h.events.TracePublish(ctx, evt.Channel, evt.TargetUserID)
	err = h.bus.Publish(ctx, evt)
	telemetry.EndWithError(span, err)
	if err != nil {
		logger.Log.Warn("Publish event failed",
			logger.WithChannel(evt.Channel),
			zap.Error(err))
		return
	}
	if m := metrics.Get(); m != nil {
		m.EventsPublished.WithLabelValues(evt.Channel).Inc()
	}
}

// pagination parses limit/offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
