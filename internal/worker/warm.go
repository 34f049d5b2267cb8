package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

// WarmJob pre-fetches safety readings so that the grid caches of the
// weather, crime and lighting sources are hot before commuters ask.
type WarmJob struct {
	config   WarmConfig
	fetchers []safety.Fetcher
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	metrics WarmMetrics
}

// WarmMetrics accumulates over every run of a job.
type WarmMetrics struct {
	Runs              int64
	PointsWarmed      int64
	PointsFailed      int64
	LastRunAt         time.Time
	LastRunDuration   time.Duration
	FetchesByCategory map[safety.Category]int64
}

// WarmJobConfig holds configuration for creating a WarmJob.
type WarmJobConfig struct {
	Config   WarmConfig
	Fetchers []safety.Fetcher
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewWarmJob creates a warming job. Nil fetchers are skipped.
func NewWarmJob(cfg WarmJobConfig) *WarmJob {
	config := cfg.Config
	if len(config.Targets) == 0 {
		config.Targets = DefaultWarmTargets()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	fetchers := make([]safety.Fetcher, 0, len(cfg.Fetchers))
	for _, f := range cfg.Fetchers {
		if f != nil {
			fetchers = append(fetchers, f)
		}
	}

	return &WarmJob{
		config:   config,
		fetchers: fetchers,
		logger:   cfg.Logger,
		now:      now,
		metrics:  WarmMetrics{FetchesByCategory: make(map[safety.Category]int64)},
	}
}

// WarmResult is the outcome of one run.
type WarmResult struct {
	StartTime   time.Time
	Duration    time.Duration
	TotalPoints int
	Successful  int
	Failed      int
	Errors      []WarmError
}

// WarmError is one failed fetch.
type WarmError struct {
	Category safety.Category
	Point    routing.Coordinate
	Error    string
}

// Run warms every configured point. A point fails when any of its fetches fails.
func (j *WarmJob) Run(ctx context.Context) *WarmResult {
	start := time.Now()
	points := j.config.AllPoints()
	result := &WarmResult{StartTime: start, TotalPoints: len(points)}

	j.logger.Info().
		Int("total_points", result.TotalPoints).
		Int("sources", len(j.fetchers)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache warm job")

	pointsCh := make(chan routing.Coordinate, len(points))
	resultsCh := make(chan pointResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range pointsCh {
				if ctx.Err() != nil {
					return
				}
				resultsCh <- j.warmPoint(ctx, p)
			}
		}()
	}

	for _, p := range points {
		pointsCh <- p
	}
	close(pointsCh)

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	fetched := make(map[safety.Category]int64)
	for pr := range resultsCh {
		if len(pr.errors) == 0 {
			result.Successful++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, pr.errors...)
		}
		for _, c := range pr.fetched {
			fetched[c]++
		}
	}
	result.Duration = time.Since(start)

	j.record(result, fetched)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("cache warm job completed")

	return result
}

type pointResult struct {
	fetched []safety.Category
	errors  []WarmError
}

func (j *WarmJob) warmPoint(ctx context.Context, p routing.Coordinate) pointResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	var out pointResult
	when := j.now()
	for _, f := range j.fetchers {
		if _, err := f.Fetch(ctx, p, when); err != nil {
			j.logger.Debug().Err(err).Str("category", string(f.Category())).Stringer("point", p).Msg("warm fetch failed")
			out.errors = append(out.errors, WarmError{Category: f.Category(), Point: p, Error: err.Error()})
			continue
		}
		out.fetched = append(out.fetched, f.Category())
	}
	return out
}

func (j *WarmJob) record(result *WarmResult, fetched map[safety.Category]int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.Runs++
	j.metrics.PointsWarmed += int64(result.Successful)
	j.metrics.PointsFailed += int64(result.Failed)
	j.metrics.LastRunAt = result.StartTime
	j.metrics.LastRunDuration = result.Duration
	for c, n := range fetched {
		j.metrics.FetchesByCategory[c] += n
	}
}

// Metrics returns a copy of the accumulated metrics.
func (j *WarmJob) Metrics() WarmMetrics {
	j.mu.Lock()
	defer j.mu.Unlock()

	m := j.metrics
	m.FetchesByCategory = make(map[safety.Category]int64, len(j.metrics.FetchesByCategory))
	for c, n := range j.metrics.FetchesByCategory {
		m.FetchesByCategory[c] = n
	}
	return m
}
