package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/pipeline"
	"github.com/saferoute/saferoute/internal/routing"
)

// Job types carried in Message.JobType.
const (
	JobBatchAnalyze = "batch_analyze"
	JobHealthCheck  = "health_check"
	JobCacheWarm    = "cache_warm"
)

// HealthCheckSession is the session the health check appends to.
const HealthCheckSession = "worker-health-check"

// Permanent job errors. Messages failing with one of these are dropped
// since redelivery cannot succeed.
var (
	ErrMalformedMessage = errors.New("malformed job message")
	ErrUnknownJob       = errors.New("unknown job type")
	ErrEmptyBatch       = errors.New("batch has no requests")
)

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownJob) || errors.Is(err, ErrEmptyBatch)
}

// Message is the JSON body of a job message.
type Message struct {
	JobType  string                  `json:"job_type"`
	Requests []pipeline.RouteRequest `json:"requests,omitempty"`
}

// Analyzer is the part of pipeline.Service the jobs drive.
type Analyzer interface {
	AnalyzeRoute(ctx context.Context, req pipeline.RouteRequest) (*pipeline.Result, error)
	BatchAnalyze(ctx context.Context, reqs []pipeline.RouteRequest) []pipeline.Outcome
}

// ProcessorConfig holds configuration for the Processor.
type ProcessorConfig struct {
	Analyzer Analyzer
	// WarmJob is optional; cache_warm messages fail without it.
	WarmJob *WarmJob
	Logger  zerolog.Logger
	// MaxBatch bounds the requests of one batch message (default: 500).
	MaxBatch int
}

// Processor executes job messages independently of their transport.
type Processor struct {
	analyzer Analyzer
	warm     *WarmJob
	logger   zerolog.Logger
	maxBatch int
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		analyzer: cfg.Analyzer,
		warm:     cfg.WarmJob,
		logger:   cfg.Logger,
		maxBatch: cfg.MaxBatch,
	}
	if p.maxBatch <= 0 {
		p.maxBatch = 500
	}
	return p
}

// Handle decodes and runs one message.
func (p *Processor) Handle(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobBatchAnalyze:
		return p.batchAnalyze(ctx, msg.Requests)
	case JobHealthCheck:
		return p.healthCheck(ctx)
	case JobCacheWarm:
		return p.cacheWarm(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// BatchSummary counts the outcomes of a batch job.
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	// FailedByStage counts failures per pipeline stage; "" collects
	// failures outside the pipeline such as cancellation.
	FailedByStage map[pipeline.Stage]int
	HighRisk      int
}

// Summarize folds batch outcomes into counts.
func Summarize(outcomes []pipeline.Outcome) BatchSummary {
	s := BatchSummary{Total: len(outcomes), FailedByStage: make(map[pipeline.Stage]int)}
	for _, o := range outcomes {
		if !o.OK() {
			s.Failed++
			s.FailedByStage[pipeline.StageOf(o.Err)]++
			continue
		}
		s.Succeeded++
		if o.Result.Assessment.IsHighRisk() {
			s.HighRisk++
		}
	}
	return s
}

func (p *Processor) batchAnalyze(ctx context.Context, reqs []pipeline.RouteRequest) error {
	if len(reqs) == 0 {
		return ErrEmptyBatch
	}
	if len(reqs) > p.maxBatch {
		return fmt.Errorf("%w: %d requests exceeds the limit of %d", ErrMalformedMessage, len(reqs), p.maxBatch)
	}

	outcomes := p.analyzer.BatchAnalyze(ctx, reqs)
	for _, o := range outcomes {
		if o.OK() {
			p.logger.Debug().
				Int("index", o.Index).
				Str("session_id", o.Result.SessionID).
				Float64("risk_score", o.Result.Assessment.Score).
				Msg("batch item analyzed")
			continue
		}
		p.logger.Warn().
			Int("index", o.Index).
			Str("stage", string(pipeline.StageOf(o.Err))).
			Err(o.Err).
			Msg("batch item failed")
	}

	s := Summarize(outcomes)
	p.logger.Info().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("high_risk", s.HighRisk).
		Msg("batch job completed")

	if err := ctx.Err(); err != nil && s.Failed > 0 {
		return fmt.Errorf("batch interrupted: %w", err)
	}
	return nil
}

// healthRequest is a short central London drive.
func healthRequest() pipeline.RouteRequest {
	return pipeline.RouteRequest{
		Start:       routing.Coordinate{Lat: 51.5074, Lon: -0.1278},
		Destination: routing.Coordinate{Lat: 51.5033, Lon: -0.1195},
		RouteType:   routing.RouteTypeDriving,
		SessionID:   HealthCheckSession,
	}
}

func (p *Processor) healthCheck(ctx context.Context) error {
	start := time.Now()
	res, err := p.analyzer.AnalyzeRoute(ctx, healthRequest())
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	p.logger.Info().
		Dur("duration", time.Since(start)).
		Bool("degraded", res.Route.Degraded).
		Int("warnings", len(res.Warnings)).
		Bool("persisted", res.Persisted).
		Msg("health check passed")
	return nil
}

func (p *Processor) cacheWarm(ctx context.Context) error {
	if p.warm == nil {
		return fmt.Errorf("%w: cache warming is not configured", ErrUnknownJob)
	}
	result := p.warm.Run(ctx)
	if result.Failed > result.Successful {
		return fmt.Errorf("too many warm failures: %d/%d", result.Failed, result.TotalPoints)
	}
	return nil
}
