package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/utils"
)

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SubscriberCounter reports live websocket subscribers.
type SubscriberCounter interface {
	Count() int
}

// HealthHandler serves GET /.
type HealthHandler struct {
	db   HealthChecker
	subs SubscriberCounter
	log  *zap.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db HealthChecker, subs SubscriberCounter, log *zap.Logger) *HealthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthHandler{db: db, subs: subs, log: log}
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":    "ok",
		"database":  "ok",
		"timestamp": time.Now().UTC(),
	}
	if h.subs != nil {
		status["subscribers"] = h.subs.Count()
	}

	if err := h.db.HealthCheck(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		status["status"] = "degraded"
		status["database"] = "unavailable"
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, status)
		return
	}
	utils.WriteSuccessResponse(w, status)
}
