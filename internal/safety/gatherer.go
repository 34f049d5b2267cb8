package safety

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/tracing"
	"github.com/saferoute/saferoute/pkg/polyline"
)

var errNoSource = errors.New("no source configured")

// GathererConfig holds configuration for the Gatherer.
type GathererConfig struct {
	Weather  Fetcher
	Crime    Fetcher
	Lighting Fetcher
	Time     Fetcher

	Tracer *tracing.Tracer
	Logger zerolog.Logger

	// Timeout bounds every source call (default: 10 seconds).
	Timeout time.Duration

	// SamplePoints is how many route points weather and crime are
	// averaged over (default: 5).
	SamplePoints int

	Defaults Defaults
}

// Gatherer runs the four sources concurrently and joins their readings.
type Gatherer struct {
	sources  map[Category]Fetcher
	tracer   *tracing.Tracer
	logger   zerolog.Logger
	timeout  time.Duration
	samples  int
	defaults Defaults
}

// NewGatherer creates a Gatherer. Nil sources always fall back.
func NewGatherer(cfg GathererConfig) *Gatherer {
	g := &Gatherer{
		sources: map[Category]Fetcher{
			CategoryWeather:  cfg.Weather,
			CategoryCrime:    cfg.Crime,
			CategoryLighting: cfg.Lighting,
			CategoryTime:     cfg.Time,
		},
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		samples:  cfg.SamplePoints,
		defaults: cfg.Defaults,
	}
	if g.tracer == nil {
		g.tracer = tracing.New(tracing.Config{Logger: cfg.Logger})
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if g.samples <= 0 {
		g.samples = 5
	}
	if g.defaults == nil {
		g.defaults = DefaultFallbacks()
	}
	return g
}

// Gather fans out to all four sources and waits for every one of them.
// It never fails: each failed source contributes its default reading.
func (g *Gatherer) Gather(ctx context.Context, route routing.Analysis, when time.Time) Data {
	points := samplePoints(route.Coordinates, g.samples)
	start := []routing.Coordinate{route.Start}
	if len(route.Coordinates) > 0 {
		start = route.Coordinates[:1]
	}

	var weather, crime, lighting, timeOfDay Reading

	// Siblings are never cancelled; every task returns nil.
	var eg errgroup.Group
	eg.Go(func() error { weather = g.collect(ctx, CategoryWeather, points, when); return nil })
	eg.Go(func() error { crime = g.collect(ctx, CategoryCrime, points, when); return nil })
	eg.Go(func() error { lighting = g.collect(ctx, CategoryLighting, start, when); return nil })
	eg.Go(func() error { timeOfDay = g.collect(ctx, CategoryTime, start, when); return nil })
	_ = eg.Wait()

	return Data{
		Weather:       weather,
		Crime:         crime,
		Lighting:      lighting,
		Time:          timeOfDay,
		SampledPoints: len(points),
		GatheredAt:    when,
	}
}

// collect traces one category's sub-fetch over points and averages the
// successful readings. Failed points are skipped; when all fail the
// default reading is returned.
func (g *Gatherer) collect(ctx context.Context, cat Category, points []routing.Coordinate, when time.Time) Reading {
	reading, _ := tracing.Trace(ctx, g.tracer, "safety."+string(cat), func(ctx context.Context, call *tracing.Call) (Reading, error) {
		call.Set("points", len(points))

		src := g.sources[cat]
		if src == nil {
			call.Fallback(errNoSource.Error())
			return g.defaults.Fallback(cat, errNoSource.Error()), nil
		}

		var got []Reading
		var lastErr error
		for _, p := range points {
			r, err := g.fetchOne(ctx, src, cat, p, when)
			if err != nil {
				lastErr = err
				continue
			}
			got = append(got, r)
		}

		if len(got) == 0 {
			if lastErr == nil {
				lastErr = errors.New("no points to sample")
			}
			g.logger.Warn().Err(lastErr).
				Str("category", string(cat)).
				Float64("fallback_score", g.defaults.Score(cat)).
				Msg("safety source failed, using default")
			call.Fallback(lastErr.Error())
			return g.defaults.Fallback(cat, lastErr.Error()), nil
		}

		call.Set("fetched_points", len(got))
		return average(cat, got), nil
	})
	return reading
}

func (g *Gatherer) fetchOne(ctx context.Context, src Fetcher, cat Category, p routing.Coordinate, when time.Time) (Reading, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		r   Reading
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- result{err: fmt.Errorf("%s source panic: %v", cat, v)}
			}
		}()
		r, err := src.Fetch(callCtx, p, when)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Reading{}, res.err
		}
		if math.IsNaN(res.r.Score) || math.IsInf(res.r.Score, 0) || res.r.Score < 0 {
			return Reading{}, fmt.Errorf("%s source returned invalid score %v", cat, res.r.Score)
		}
		return res.r, nil
	case <-callCtx.Done():
		return Reading{}, fmt.Errorf("%s source: %w", cat, callCtx.Err())
	}
}

// average combines per-point readings; the first reading supplies the
// descriptive summary and detail.
func average(cat Category, rs []Reading) Reading {
	var sum float64
	for _, r := range rs {
		sum += r.Score
	}
	out := rs[0]
	out.Category = cat
	out.Origin = OriginFetched
	out.Score = math.Min(sum/float64(len(rs)), cat.MaxScore())
	out.Reason = ""
	return out
}

// samplePoints picks up to n evenly spaced points along a route.
func samplePoints(coords []routing.Coordinate, n int) []routing.Coordinate {
	idx := polyline.Thin(len(coords), n)
	out := make([]routing.Coordinate, len(idx))
	for i, j := range idx {
		out[i] = coords[j]
	}
	return out
}
