package models

import (
	"time"

	"github.com/saferoute/saferoute/internal/tracing"
)

// Health is the liveness response.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    time.Time      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// ProvidersStatus lists the circuit-breaker view of every upstream provider.
type ProvidersStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      time.Time        `json:"time"`
	Providers []ProviderStatus `json:"providers"`
}

// ProviderStatus is the health of one upstream provider.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	BreakerState        string       `json:"breaker_state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	Message             *string      `json:"message,omitempty"`
}

// TraceStatsResponse lists aggregated timings per traced operation.
type TraceStatsResponse struct {
	Operations []tracing.Stats `json:"operations"`
}

// OperationTraceResponse holds one operation's aggregates and recent records.
type OperationTraceResponse struct {
	Stats  tracing.Stats    `json:"stats"`
	Recent []tracing.Record `json:"recent"`
}
