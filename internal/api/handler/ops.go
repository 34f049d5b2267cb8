package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/tracing"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	traces    TraceSource
}

// NewOpsHandler creates an OpsHandler. registry and traces may be nil.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, traces TraceSource) *OpsHandler {
	return &OpsHandler{version: version, buildTime: buildTime, registry: registry, traces: traces}
}

// HealthCheck handles GET /v1/ops/health.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// Providers handles GET /v1/ops/providers. The overall status is the worst
// provider status; an open breaker only degrades the service since every
// provider has a fallback.
func (h *OpsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	out := models.ProvidersStatus{
		Status:    models.HealthStatusOK,
		Time:      time.Now().UTC(),
		Providers: []models.ProviderStatus{},
	}
	if h.registry != nil {
		for _, p := range h.registry.All() {
			ps := models.ProviderStatus{
				Provider:            p.Name,
				Status:              providerStatus(p.State),
				BreakerState:        p.State.String(),
				ConsecutiveFailures: p.Counts.ConsecutiveFailures,
				LastSuccessAt:       p.LastSuccessAt,
				LastFailureAt:       p.LastFailureAt,
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			if ps.Status != models.HealthStatusOK {
				out.Status = models.HealthStatusDegraded
			}
			out.Providers = append(out.Providers, ps)
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}

// Traces handles GET /v1/ops/traces.
func (h *OpsHandler) Traces(w http.ResponseWriter, r *http.Request) {
	resp := models.TraceStatsResponse{Operations: []tracing.Stats{}}
	if h.traces != nil {
		resp.Operations = append(resp.Operations, h.traces.GetTraceStats()...)
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// OperationTraces handles GET /v1/ops/traces/{operation}.
func (h *OpsHandler) OperationTraces(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	if h.traces == nil {
		response.NotFound(w, r, "no traces recorded for "+name)
		return
	}
	stats, ok := h.traces.GetOperationStats(name)
	if !ok {
		response.NotFound(w, r, "no traces recorded for "+name)
		return
	}
	response.JSON(w, r, http.StatusOK, models.OperationTraceResponse{Stats: stats, Recent: h.traces.GetRecentTraces(name)})
}

func providerStatus(s gobreaker.State) models.HealthStatus {
	switch s {
	case gobreaker.StateClosed:
		return models.HealthStatusOK
	case gobreaker.StateHalfOpen:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}
