package pipeline

import (
	"context"

	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/internal/tracing"
)

// Service is the entry point used by the HTTP API and the worker.
type Service struct {
	orchestrator *Orchestrator
	batch        *Batch
	store        session.Store
}

// NewService wires an orchestrator with a batch coordinator bounded at
// batchConcurrency.
func NewService(o *Orchestrator, batchConcurrency int) *Service {
	return &Service{
		orchestrator: o,
		batch:        NewBatch(o, batchConcurrency, o.logger),
		store:        o.store,
	}
}

// AnalyzeRoute runs the pipeline for one request.
func (s *Service) AnalyzeRoute(ctx context.Context, req RouteRequest) (*Result, error) {
	return s.orchestrator.Run(ctx, req)
}

// BatchAnalyze runs many requests; outcomes keep input order.
func (s *Service) BatchAnalyze(ctx context.Context, reqs []RouteRequest) []Outcome {
	return s.batch.RunBatch(ctx, reqs)
}

// GetSession returns a session, creating it if unseen.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.GetOrCreate(ctx, sessionID)
}

// UpdatePreferences merges a partial preferences update.
func (s *Service) UpdatePreferences(ctx context.Context, sessionID string, upd session.PreferencesUpdate) (session.Preferences, error) {
	return s.store.UpdatePreferences(ctx, sessionID, upd)
}

// GetHistory returns up to limit recent records in chronological order.
func (s *Service) GetHistory(ctx context.Context, sessionID string, limit int) ([]session.Record, error) {
	return s.store.GetHistory(ctx, sessionID, limit)
}

// GetStatistics returns a session's statistics.
func (s *Service) GetStatistics(ctx context.Context, sessionID string) (session.Statistics, error) {
	return s.store.GetStatistics(ctx, sessionID)
}

// GetTraceStats returns per-operation timing statistics.
func (s *Service) GetTraceStats() []tracing.Stats {
	return s.orchestrator.tracer.AllStats()
}

// GetOperationStats returns the statistics of one traced operation.
func (s *Service) GetOperationStats(name string) (tracing.Stats, bool) {
	return s.orchestrator.tracer.Stats(name)
}

// GetRecentTraces returns the retained records of one traced operation, oldest first.
func (s *Service) GetRecentTraces(name string) []tracing.Record {
	return s.orchestrator.tracer.Records(name)
}

// Threshold returns the optimization threshold in effect.
func (s *Service) Threshold() float64 {
	return s.orchestrator.threshold
}
