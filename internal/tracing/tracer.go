// Package tracing records the duration and outcome of every pipeline stage
// and provider sub-fetch, keeps per-operation aggregates in memory and
// mirrors each call as an OpenTelemetry span and histogram sample.
package tracing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/saferoute/saferoute/internal/tracing"

// Outcome tags how a traced call ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeFallback Outcome = "fallback"
)

// Record is one traced invocation.
type Record struct {
	Operation string         `json:"operation"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Outcome   Outcome        `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stats aggregates every invocation of one operation since the ledger was created.
type Stats struct {
	Operation   string        `json:"operation"`
	Count       int           `json:"count"`
	Failures    int           `json:"failures"`
	Fallbacks   int           `json:"fallbacks"`
	MinDuration time.Duration `json:"min_duration"`
	AvgDuration time.Duration `json:"avg_duration"`
	MaxDuration time.Duration `json:"max_duration"`
}

// Config holds configuration for the ledger.
type Config struct {
	Logger zerolog.Logger

	// Retain is how many recent records are kept per operation (default: 1000).
	// Aggregates are unaffected by retention.
	Retain int

	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Tracer is the in-process trace ledger. It is safe for concurrent use.
type Tracer struct {
	logger   zerolog.Logger
	retain   int
	otel     trace.Tracer
	duration metric.Float64Histogram

	mu  sync.Mutex
	ops map[string]*operation
}

type operation struct {
	count     int
	failures  int
	fallbacks int
	total     time.Duration
	min       time.Duration
	max       time.Duration
	recent    []Record
}

// New creates an empty ledger.
func New(cfg Config) *Tracer {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = 1000
	}

	t := &Tracer{
		logger: cfg.Logger,
		retain: retain,
		otel:   tp.Tracer(instrumentationName),
		ops:    make(map[string]*operation),
	}

	hist, err := mp.Meter(instrumentationName).Float64Histogram(
		"pipeline.operation.duration",
		metric.WithDescription("Duration of traced pipeline operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to create operation duration histogram")
	} else {
		t.duration = hist
	}
	return t
}

// Call is handed to a traced function so it can tag a fallback or attach metadata.
type Call struct {
	mu       sync.Mutex
	fallback string
	metadata map[string]any
}

// Fallback marks the call as having returned a substitute value.
func (c *Call) Fallback(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == "" {
		reason = "fallback"
	}
	c.fallback = reason
}

// Set attaches a metadata value to the record.
func (c *Call) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Call) setLocked(key string, value any) {
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	c.metadata[key] = value
}

// Trace runs fn as operation name. The record is written on every exit
// path, including a panic, which is recorded as a failure and re-raised.
func Trace[T any](ctx context.Context, t *Tracer, name string, fn func(context.Context, *Call) (T, error)) (result T, err error) {
	ctx, span := t.otel.Start(ctx, name, trace.WithAttributes(attribute.String("operation", name)))
	call := &Call{}
	start := time.Now()

	defer func() {
		rec := Record{
			Operation: name,
			StartedAt: start,
			Duration:  time.Since(start),
			Outcome:   OutcomeSuccess,
		}

		p := recover()
		switch {
		case p != nil:
			rec.Outcome = OutcomeFailure
			rec.Error = fmt.Sprintf("panic: %v", p)
		case err != nil:
			rec.Outcome = OutcomeFailure
			rec.Error = err.Error()
		}

		call.mu.Lock()
		if rec.Outcome == OutcomeSuccess && call.fallback != "" {
			rec.Outcome = OutcomeFallback
			call.setLocked("fallback_reason", call.fallback)
		}
		rec.Metadata = maps.Clone(call.metadata)
		call.mu.Unlock()

		t.finish(ctx, span, rec)
		if p != nil {
			panic(p)
		}
	}()

	return fn(ctx, call)
}

// Run traces a function with no result value.
func (t *Tracer) Run(ctx context.Context, name string, fn func(context.Context, *Call) error) error {
	_, err := Trace(ctx, t, name, func(ctx context.Context, c *Call) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	return err
}

func (t *Tracer) finish(ctx context.Context, span trace.Span, rec Record) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", rec.Operation),
		attribute.String("outcome", string(rec.Outcome)),
	}
	span.SetAttributes(attribute.String("outcome", string(rec.Outcome)))
	if rec.Outcome == OutcomeFailure {
		span.SetStatus(codes.Error, rec.Error)
	}
	span.End()

	if t.duration != nil {
		t.duration.Record(ctx, rec.Duration.Seconds(), metric.WithAttributes(attrs...))
	}

	t.mu.Lock()
	op, ok := t.ops[rec.Operation]
	if !ok {
		op = &operation{min: rec.Duration, max: rec.Duration}
		t.ops[rec.Operation] = op
	}
	op.count++
	op.total += rec.Duration
	if rec.Duration < op.min {
		op.min = rec.Duration
	}
	if rec.Duration > op.max {
		op.max = rec.Duration
	}
	switch rec.Outcome {
	case OutcomeFailure:
		op.failures++
	case OutcomeFallback:
		op.fallbacks++
	}
	op.recent = append(op.recent, rec)
	if len(op.recent) > t.retain {
		op.recent = op.recent[len(op.recent)-t.retain:]
	}
	t.mu.Unlock()

	t.logger.Debug().
		Str("operation", rec.Operation).
		Str("outcome", string(rec.Outcome)).
		Dur("duration", rec.Duration).
		Msg("operation traced")
}

// Stats returns the aggregate for one operation.
func (t *Tracer) Stats(name string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[name]
	if !ok {
		return Stats{Operation: name}, false
	}
	return op.stats(name), true
}

// AllStats returns aggregates for every operation ordered by name.
func (t *Tracer) AllStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.ops))
	for name, op := range t.ops {
		out = append(out, op.stats(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Records returns a copy of the retained records for one operation, oldest first.
func (t *Tracer) Records(name string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[name]
	if !ok {
		return nil
	}
	out := make([]Record, len(op.recent))
	for i, rec := range op.recent {
		rec.Metadata = maps.Clone(rec.Metadata)
		out[i] = rec
	}
	return out
}

func (op *operation) stats(name string) Stats {
	return Stats{
		Operation:   name,
		Count:       op.count,
		Failures:    op.failures,
		Fallbacks:   op.fallbacks,
		MinDuration: op.min,
		AvgDuration: op.total / time.Duration(op.count),
		MaxDuration: op.max,
	}
}
