package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/agentrun/internal/api/shared"
)

const healthCheckTimeout = 2 * time.Second

// Pinger checks a backing service. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PermitGauge reports backpressure usage. orchestrator.PermitPool
// implements it.
type PermitGauge interface {
	InFlight() int
	Capacity() int
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	permits PermitGauge
	backend string
	pinger  Pinger
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pinger may be nil for backends
// without a connection to check.
func NewHealthHandler(permits PermitGauge, backend string, pinger Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		permits: permits,
		backend: backend,
		pinger:  pinger,
		logger:  logger.With(slog.String("component", "health_handler")),
	}
}

// ServeHTTP implements http.Handler. It responds 503 when the state store
// cannot be reached.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		InFlightSteps:  h.permits.InFlight(),
		StepCapacity:   h.permits.Capacity(),
		StateStore:     h.backend,
		StateStoreOkay: true,
	}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.pinger.PingContext(ctx); err != nil {
			h.logger.Warn("state store health check failed", "backend", h.backend, "error", err)
			resp.Status = "degraded"
			resp.StateStoreOkay = false
			shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
