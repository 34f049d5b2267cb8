package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/pipeline"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/internal/tracing"
	"github.com/saferoute/saferoute/pkg/optional"
)

var (
	sanFrancisco = routing.Coordinate{Lat: 37.7749, Lon: -122.4194}
	sfo          = routing.Coordinate{Lat: 37.6213, Lon: -122.3790}
)

type stubPlanner struct {
	degraded bool
}

func (p stubPlanner) PlanRoute(_ context.Context, start, dest routing.Coordinate, rt routing.RouteType) routing.Analysis {
	if p.degraded {
		return routing.StraightLine(start, dest, rt, "provider unavailable")
	}
	mid := routing.Coordinate{Lat: (start.Lat + dest.Lat) / 2, Lon: (start.Lon + dest.Lon) / 2}
	return routing.Analysis{
		Start:           start,
		Destination:     dest,
		RouteType:       rt,
		Coordinates:     []routing.Coordinate{start, mid, dest},
		DistanceMeters:  21000,
		DurationSeconds: 1500,
		Provider:        "stub",
	}
}

type stubOptimizer struct {
	err   error
	panic bool
	calls atomic.Int32
}

func (o *stubOptimizer) Optimize(_ context.Context, route routing.Analysis, a risk.Assessment) (optimize.Result, error) {
	o.calls.Add(1)
	if o.panic {
		panic("optimizer exploded")
	}
	if o.err != nil {
		return optimize.Result{}, o.err
	}
	return optimize.Result{Alternative: route, OriginalRisk: a.Score, AlternativeRisk: a.Score - 1.5, Recommended: true}, nil
}

type failingScorer struct{}

func (failingScorer) Score(safety.Data) (risk.Assessment, error) {
	return risk.Assessment{}, errors.New("scorer broke")
}

type failingNarrator struct{}

func (failingNarrator) FormatAlert(routing.Analysis, risk.Assessment, optional.Optional[optimize.Result]) (alert.Alert, error) {
	return alert.Alert{}, errors.New("narrator broke")
}

type failingStore struct {
	session.Store
}

func (failingStore) AppendRecord(context.Context, string, session.Record) (session.Statistics, error) {
	return session.Statistics{}, errors.New("store unavailable")
}

func fixed(cat safety.Category, score float64) safety.Fetcher {
	return safety.FetcherFunc{Cat: cat, Fn: func(context.Context, routing.Coordinate, time.Time) (safety.Reading, error) {
		return safety.Reading{Category: cat, Score: score, Origin: safety.OriginFetched, Summary: "stub"}, nil
	}}
}

func broken(cat safety.Category) safety.Fetcher {
	return safety.FetcherFunc{Cat: cat, Fn: func(context.Context, routing.Coordinate, time.Time) (safety.Reading, error) {
		return safety.Reading{}, errors.New("source down")
	}}
}

type harness struct {
	weather, crime, lighting, timeOfDay safety.Fetcher

	planner   pipeline.RoutePlanner
	scorer    pipeline.RiskScorer
	narrator  pipeline.AlertNarrator
	store     session.Store
	optimizer *stubOptimizer
	tracer    *tracing.Tracer
}

func newHarness(weather, crime, lighting, timeOfDay float64) *harness {
	return &harness{
		weather:   fixed(safety.CategoryWeather, weather),
		crime:     fixed(safety.CategoryCrime, crime),
		lighting:  fixed(safety.CategoryLighting, lighting),
		timeOfDay: fixed(safety.CategoryTime, timeOfDay),
		planner:   stubPlanner{},
		scorer:    risk.NewScorer(0.5),
		narrator:  alert.NewNarrator(),
		store:     session.NewMemoryStore(),
		optimizer: &stubOptimizer{},
		tracer:    tracing.New(tracing.Config{Logger: zerolog.Nop()}),
	}
}

func (h *harness) orchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	gatherer := safety.NewGatherer(safety.GathererConfig{
		Weather:  h.weather,
		Crime:    h.crime,
		Lighting: h.lighting,
		Time:     h.timeOfDay,
		Tracer:   h.tracer,
		Logger:   zerolog.Nop(),
		Timeout:  time.Second,
	})
	o, err := pipeline.NewOrchestrator(pipeline.Config{
		Planner:   h.planner,
		Gatherer:  gatherer,
		Scorer:    h.scorer,
		Optimizer: h.optimizer,
		Narrator:  h.narrator,
		Store:     h.store,
		Tracer:    h.tracer,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func request(sessionID string) pipeline.RouteRequest {
	return pipeline.RouteRequest{
		Start:       sanFrancisco,
		Destination: sfo,
		RouteType:   routing.RouteTypeDriving,
		SessionID:   sessionID,
	}
}

func TestRun_ModerateRouteIsOptimized(t *testing.T) {
	h := newHarness(1, 2, 0, 2)
	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)

	assert.Equal(t, 5.0, res.Assessment.Score)
	assert.Equal(t, risk.CategoryModerate, res.Assessment.Category)
	assert.True(t, res.Optimization.IsPresent())
	assert.Equal(t, int32(1), h.optimizer.calls.Load())
	assert.Equal(t, alert.SeverityMedium, res.Alert.Severity)

	assert.True(t, res.Persisted)
	stats, ok := res.Statistics.Get()
	require.True(t, ok)
	assert.Equal(t, session.Statistics{TotalRoutes: 1, AverageRisk: 5}, stats)
	assert.Equal(t, "s1", res.SessionID)
	assert.NotEmpty(t, res.RequestID)
}

func TestRun_SafeRouteSkipsOptimization(t *testing.T) {
	h := newHarness(0, 1, 0, 1)
	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)

	assert.Equal(t, 2.0, res.Assessment.Score)
	assert.Equal(t, risk.CategorySafe, res.Assessment.Category)
	assert.False(t, res.Optimization.IsPresent())
	assert.Zero(t, h.optimizer.calls.Load())

	_, traced := h.tracer.Stats("optimization")
	assert.False(t, traced, "skipped stage is not traced")
}

func TestRun_OptimizationThresholdBoundary(t *testing.T) {
	below := newHarness(0.9, 1, 1, 1)
	res, err := below.orchestrator(t).Run(context.Background(), request("b"))
	require.NoError(t, err)
	assert.InDelta(t, 3.9, res.Assessment.Score, 1e-9)
	assert.False(t, res.Optimization.IsPresent())
	assert.Zero(t, below.optimizer.calls.Load())

	at := newHarness(1, 1, 1, 1)
	res, err = at.orchestrator(t).Run(context.Background(), request("a"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Assessment.Score)
	assert.True(t, res.Optimization.IsPresent())
	assert.Equal(t, int32(1), at.optimizer.calls.Load())
}

func TestRun_AllSourcesFail(t *testing.T) {
	h := newHarness(0, 0, 0, 0)
	h.weather = broken(safety.CategoryWeather)
	h.crime = broken(safety.CategoryCrime)
	h.lighting = broken(safety.CategoryLighting)
	h.timeOfDay = broken(safety.CategoryTime)

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)

	defaults := safety.DefaultFallbacks()
	for _, cat := range safety.Categories {
		r, err := res.Safety.Reading(cat)
		require.NoError(t, err)
		assert.True(t, r.IsFallback(), cat)
		assert.Equal(t, defaults.Score(cat), r.Score, cat)
	}
	assert.Equal(t, 2.0, res.Assessment.Score)
	assert.Len(t, res.Warnings, 4)

	stats, ok := h.tracer.Stats("safety_data")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Fallbacks)
}

func TestRun_DegradedRouteContinues(t *testing.T) {
	h := newHarness(1, 1, 1, 1)
	h.planner = stubPlanner{degraded: true}

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)
	assert.True(t, res.Route.Degraded)
	assert.Len(t, res.Route.Coordinates, 2)

	stats, ok := h.tracer.Stats("route_analysis")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Fallbacks)
}

func TestRun_RiskScoringFailureIsFatal(t *testing.T) {
	h := newHarness(1, 1, 1, 1)
	h.scorer = failingScorer{}

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	assert.Nil(t, res)

	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, pipeline.StageRiskScoring, perr.Stage)

	stats, err := h.store.GetStatistics(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRoutes, "nothing is recorded for a failed run")
}

func TestRun_AlertFormattingFailureIsFatal(t *testing.T) {
	h := newHarness(1, 1, 1, 1)
	h.narrator = failingNarrator{}

	_, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, pipeline.StageAlertFormatting, perr.Stage)
}

func TestRun_OptimizationFailureIsNotFatal(t *testing.T) {
	h := newHarness(3, 3, 2, 2)
	h.optimizer.err = routing.ErrNoAlternative

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)
	assert.False(t, res.Optimization.IsPresent())
	assert.Contains(t, res.Warnings, "route optimization unavailable")
	assert.Equal(t, alert.SeverityHigh, res.Alert.Severity)

	stats, ok := h.tracer.Stats("optimization")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Failures)
}

func TestRun_OptimizationPanicIsNotFatal(t *testing.T) {
	h := newHarness(3, 3, 2, 2)
	h.optimizer.panic = true

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)
	assert.False(t, res.Optimization.IsPresent())
}

func TestRun_StoreFailureKeepsResult(t *testing.T) {
	h := newHarness(1, 2, 0, 2)
	h.store = failingStore{Store: session.NewMemoryStore()}

	res, err := h.orchestrator(t).Run(context.Background(), request("s1"))
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.False(t, res.Statistics.IsPresent())
	assert.Equal(t, 5.0, res.Assessment.Score)
}

func TestRun_GeneratesSessionID(t *testing.T) {
	h := newHarness(1, 1, 1, 1)
	res, err := h.orchestrator(t).Run(context.Background(), request(""))
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 36)

	history, err := h.store.GetHistory(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(1, 1, 1, 1)
	req := request("s1")
	req.Start.Lat = 123
	req.RouteType = "teleport"

	_, err := h.orchestrator(t).Run(context.Background(), req)
	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, pipeline.StageRequest, perr.Stage)
	assert.ErrorIs(t, err, pipeline.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "start.lat")
	assert.Contains(t, err.Error(), "route_type")
}

func TestRun_TracesEveryStage(t *testing.T) {
	h := newHarness(1, 2, 0, 2)
	o := h.orchestrator(t)
	for i := 0; i < 3; i++ {
		_, err := o.Run(context.Background(), request("s1"))
		require.NoError(t, err)
	}

	for _, name := range []string{
		"route_analysis", "safety_data", "risk_scoring", "optimization", "alert_formatting", "session_append",
		"safety.weather", "safety.crime", "safety.lighting", "safety.time",
	} {
		stats, ok := h.tracer.Stats(name)
		require.True(t, ok, name)
		assert.Equal(t, 3, stats.Count, name)
		assert.LessOrEqual(t, stats.MinDuration, stats.AvgDuration, name)
		assert.LessOrEqual(t, stats.AvgDuration, stats.MaxDuration, name)
	}

	stats, err := h.store.GetStatistics(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRoutes)
}

func TestNewOrchestrator_MissingStages(t *testing.T) {
	_, err := pipeline.NewOrchestrator(pipeline.Config{Scorer: risk.NewScorer(0.5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner")
	assert.Contains(t, err.Error(), "store")
}

func sessionUpdate(rt *routing.RouteType) session.PreferencesUpdate {
	return session.PreferencesUpdate{PreferredRouteType: rt}
}
