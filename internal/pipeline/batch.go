package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds in-flight runs of a batch.
const DefaultBatchConcurrency = 4

// Runner runs one request.
type Runner interface {
	Run(ctx context.Context, req RouteRequest) (*Result, error)
}

// Outcome is the result or error of one batch entry.
type Outcome struct {
	Index   int          `json:"index"`
	Request RouteRequest `json:"request"`
	Result  *Result      `json:"result,omitempty"`
	Err     error        `json:"-"`
}

// OK reports whether the entry succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Batch runs many requests with bounded concurrency.
type Batch struct {
	runner Runner
	limit  int
	logger zerolog.Logger
}

// NewBatch creates a batch coordinator. A limit below 1 uses the default.
func NewBatch(runner Runner, limit int, logger zerolog.Logger) *Batch {
	if limit < 1 {
		limit = DefaultBatchConcurrency
	}
	return &Batch{runner: runner, limit: limit, logger: logger}
}

// RunBatch runs every request and returns outcomes in input order. A
// failing request never cancels or affects the others.
func (b *Batch) RunBatch(ctx context.Context, reqs []RouteRequest) []Outcome {
	out := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(b.limit)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := b.run(ctx, req)
			out[i] = Outcome{Index: i, Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range out {
		if !o.OK() {
			failed++
		}
	}
	b.logger.Info().
		Int("requests", len(reqs)).
		Int("failed", failed).
		Int("concurrency", b.limit).
		Msg("batch completed")
	return out
}

func (b *Batch) run(ctx context.Context, req RouteRequest) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, &Error{Stage: StageRequest, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return b.runner.Run(ctx, req)
}
