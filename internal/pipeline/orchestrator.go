// Package pipeline runs the route safety pipeline: route analysis, safety
// gathering, risk scoring, conditional optimization, alert formatting and
// session recording.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/internal/tracing"
	"github.com/saferoute/saferoute/pkg/optional"
)

// DefaultOptimizationThreshold is the score at or above which an
// alternative route is looked for.
const DefaultOptimizationThreshold = 4.0

// RoutePlanner produces a route analysis. It never fails.
type RoutePlanner interface {
	PlanRoute(ctx context.Context, start, dest routing.Coordinate, rt routing.RouteType) routing.Analysis
}

// SafetyGatherer collects the four safety readings. It never fails.
type SafetyGatherer interface {
	Gather(ctx context.Context, route routing.Analysis, when time.Time) safety.Data
}

// RiskScorer combines safety readings into an assessment.
type RiskScorer interface {
	Score(data safety.Data) (risk.Assessment, error)
}

// RouteOptimizer proposes an alternative for a risky route.
type RouteOptimizer interface {
	Optimize(ctx context.Context, route routing.Analysis, a risk.Assessment) (optimize.Result, error)
}

// AlertNarrator formats the user-facing alert.
type AlertNarrator interface {
	FormatAlert(route routing.Analysis, a risk.Assessment, opt optional.Optional[optimize.Result]) (alert.Alert, error)
}

// Config holds the stages and settings of an Orchestrator.
type Config struct {
	Planner   RoutePlanner
	Gatherer  SafetyGatherer
	Scorer    RiskScorer
	Optimizer RouteOptimizer
	Narrator  AlertNarrator
	Store     session.Store
	Tracer    *tracing.Tracer
	Logger    zerolog.Logger

	// OptimizationThreshold (default: 4.0). Zero uses the default.
	OptimizationThreshold float64

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Result is the output of one pipeline run.
type Result struct {
	RequestID    string                             `json:"request_id"`
	SessionID    string                             `json:"session_id"`
	Route        routing.Analysis                   `json:"route"`
	Safety       safety.Data                        `json:"safety"`
	Assessment   risk.Assessment                    `json:"assessment"`
	Optimization optional.Optional[optimize.Result] `json:"optimization"`
	Alert        alert.Alert                        `json:"alert"`
	// Statistics are the session's statistics after this run. Absent when
	// the record could not be persisted.
	Statistics optional.Optional[session.Statistics] `json:"statistics"`
	Persisted  bool                                  `json:"persisted"`
	// Warnings lists non-fatal problems of the run.
	Warnings    []string  `json:"warnings,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Orchestrator runs stages in strict order for one request at a time. It
// is safe for concurrent use.
type Orchestrator struct {
	planner   RoutePlanner
	gatherer  SafetyGatherer
	scorer    RiskScorer
	optimizer RouteOptimizer
	narrator  AlertNarrator
	store     session.Store
	tracer    *tracing.Tracer
	logger    zerolog.Logger
	threshold float64
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. Planner, Gatherer, Scorer,
// Narrator and Store are required.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	var missing []string
	if cfg.Planner == nil {
		missing = append(missing, "planner")
	}
	if cfg.Gatherer == nil {
		missing = append(missing, "gatherer")
	}
	if cfg.Scorer == nil {
		missing = append(missing, "scorer")
	}
	if cfg.Narrator == nil {
		missing = append(missing, "narrator")
	}
	if cfg.Store == nil {
		missing = append(missing, "store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing %s", strings.Join(missing, ", "))
	}

	o := &Orchestrator{
		planner:   cfg.Planner,
		gatherer:  cfg.Gatherer,
		scorer:    cfg.Scorer,
		optimizer: cfg.Optimizer,
		narrator:  cfg.Narrator,
		store:     cfg.Store,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		threshold: cfg.OptimizationThreshold,
		now:       cfg.Now,
	}
	if o.tracer == nil {
		o.tracer = tracing.New(tracing.Config{Logger: cfg.Logger})
	}
	if o.threshold <= 0 {
		o.threshold = DefaultOptimizationThreshold
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Tracer returns the ledger the orchestrator records into.
func (o *Orchestrator) Tracer() *tracing.Tracer {
	return o.tracer
}

// Threshold returns the optimization threshold.
func (o *Orchestrator) Threshold() float64 {
	return o.threshold
}

// Run analyzes one request. It returns either a complete Result or an
// *Error naming the fatal stage. A panic in any stage is converted to an
// *Error so one bad run cannot take down its callers.
func (o *Orchestrator) Run(ctx context.Context, req RouteRequest) (res *Result, err error) {
	stage := StageRequest
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error().Str("stage", string(stage)).Interface("panic", p).Msg("pipeline stage panicked")
			res, err = nil, &Error{Stage: stage, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, &Error{Stage: StageRequest, Err: err}
	}

	out := &Result{
		RequestID: uuid.NewString(),
		SessionID: req.SessionID,
	}
	if out.SessionID == "" {
		out.SessionID = uuid.NewString()
	}
	when := o.now()
	if req.DepartAt != nil {
		when = *req.DepartAt
	}
	logger := o.logger.With().
		Str("request_id", out.RequestID).
		Str("session_id", out.SessionID).
		Logger()

	stage = StageRouteAnalysis
	out.Route, _ = tracing.Trace(ctx, o.tracer, string(stage), func(ctx context.Context, call *tracing.Call) (routing.Analysis, error) {
		a := o.planner.PlanRoute(ctx, req.Start, req.Destination, req.RouteType)
		call.Set("provider", a.Provider)
		call.Set("distance_km", a.DistanceKm())
		if a.Degraded {
			call.Fallback(a.DegradedReason)
		}
		return a, nil
	})
	if out.Route.Degraded {
		logger.Warn().Str("reason", out.Route.DegradedReason).Msg("route analysis degraded to straight line")
		out.Warnings = append(out.Warnings, "route analysis degraded: "+out.Route.DegradedReason)
	}

	stage = StageSafetyData
	out.Safety, _ = tracing.Trace(ctx, o.tracer, string(stage), func(ctx context.Context, call *tracing.Call) (safety.Data, error) {
		d := o.gatherer.Gather(ctx, out.Route, when)
		if fb := d.Fallbacks(); len(fb) > 0 {
			names := make([]string, len(fb))
			for i, c := range fb {
				names[i] = string(c)
			}
			call.Set("fallbacks", names)
			call.Fallback(strings.Join(names, ","))
		}
		return d, nil
	})
	for _, c := range out.Safety.Fallbacks() {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s data unavailable, default used", c))
	}

	stage = StageRiskScoring
	out.Assessment, err = tracing.Trace(ctx, o.tracer, string(stage), func(_ context.Context, call *tracing.Call) (risk.Assessment, error) {
		a, err := o.scorer.Score(out.Safety)
		if err == nil {
			call.Set("risk_score", a.Score)
			call.Set("category", string(a.Category))
		}
		return a, err
	})
	if err != nil {
		logger.Error().Err(err).Msg("risk scoring failed")
		return nil, &Error{Stage: StageRiskScoring, Err: err}
	}

	stage = StageOptimization
	if out.Assessment.Score >= o.threshold {
		out.Optimization = o.optimize(ctx, logger, out)
	}

	stage = StageAlertFormatting
	out.Alert, err = tracing.Trace(ctx, o.tracer, string(stage), func(_ context.Context, call *tracing.Call) (alert.Alert, error) {
		a, err := o.narrator.FormatAlert(out.Route, out.Assessment, out.Optimization)
		if err == nil {
			call.Set("severity", string(a.Severity))
		}
		return a, err
	})
	if err != nil {
		logger.Error().Err(err).Msg("alert formatting failed")
		return nil, &Error{Stage: StageAlertFormatting, Err: err}
	}

	stage = StageSessionAppend
	rec := session.Record{
		Start:           req.Start,
		Destination:     req.Destination,
		RouteType:       req.RouteType,
		DistanceKm:      out.Route.DistanceKm(),
		DurationMinutes: out.Route.DurationMinutes(),
		Degraded:        out.Route.Degraded,
		Assessment:      out.Assessment,
		Alert:           out.Alert,
		Optimization:    out.Optimization,
		CreatedAt:       o.now().UTC(),
	}
	stats, appendErr := tracing.Trace(ctx, o.tracer, string(stage), func(ctx context.Context, _ *tracing.Call) (session.Statistics, error) {
		return o.store.AppendRecord(ctx, out.SessionID, rec)
	})
	if appendErr != nil {
		logger.Warn().Err(appendErr).Msg("session append failed, result not persisted")
		out.Warnings = append(out.Warnings, "session record not persisted")
	} else {
		out.Persisted = true
		out.Statistics = optional.Some(stats)
	}

	out.CompletedAt = o.now().UTC()
	logger.Info().
		Float64("risk_score", out.Assessment.Score).
		Str("category", string(out.Assessment.Category)).
		Bool("optimized", out.Optimization.IsPresent()).
		Bool("persisted", out.Persisted).
		Msg("route analyzed")
	return out, nil
}

// optimize runs the conditional stage. Failures, panics included, are
// logged and leave the result absent.
func (o *Orchestrator) optimize(ctx context.Context, logger zerolog.Logger, out *Result) (opt optional.Optional[optimize.Result]) {
	if o.optimizer == nil {
		return optional.None[optimize.Result]()
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Warn().Interface("panic", p).Msg("route optimization panicked, continuing without alternative")
			out.Warnings = append(out.Warnings, "route optimization unavailable")
			opt = optional.None[optimize.Result]()
		}
	}()

	res, err := tracing.Trace(ctx, o.tracer, string(StageOptimization), func(ctx context.Context, call *tracing.Call) (optimize.Result, error) {
		r, err := o.optimizer.Optimize(ctx, out.Route, out.Assessment)
		if err == nil {
			call.Set("recommended", r.Recommended)
		}
		return r, err
	})
	if err != nil {
		logger.Warn().Err(err).Msg("route optimization failed, continuing without alternative")
		out.Warnings = append(out.Warnings, "route optimization unavailable")
		return optional.None[optimize.Result]()
	}
	return optional.Some(res)
}
