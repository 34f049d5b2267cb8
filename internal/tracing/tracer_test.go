package tracing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/saferoute/saferoute/internal/tracing"
)

func newLedger(t *testing.T, retain int) (*tracing.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return tracing.New(tracing.Config{
		Logger:         zerolog.Nop(),
		Retain:         retain,
		TracerProvider: tp,
	}), sr
}

func TestTrace_RecordsSuccess(t *testing.T) {
	ledger, sr := newLedger(t, 0)

	got, err := tracing.Trace(context.Background(), ledger, "route_analysis", func(_ context.Context, c *tracing.Call) (int, error) {
		c.Set("points", 12)
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	recs := ledger.Records("route_analysis")
	require.Len(t, recs, 1)
	assert.Equal(t, tracing.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, 12, recs[0].Metadata["points"])

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "route_analysis", spans[0].Name())
}

func TestTrace_RecordsFailure(t *testing.T) {
	ledger, sr := newLedger(t, 0)
	boom := errors.New("boom")

	_, err := tracing.Trace(context.Background(), ledger, "risk_scoring", func(context.Context, *tracing.Call) (float64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	recs := ledger.Records("risk_scoring")
	require.Len(t, recs, 1)
	assert.Equal(t, tracing.OutcomeFailure, recs[0].Outcome)
	assert.Equal(t, "boom", recs[0].Error)

	stats, ok := ledger.Stats("risk_scoring")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Failures)

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, codes.Error, sr.Ended()[0].Status().Code)
}

func TestTrace_RecordsFallback(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	err := ledger.Run(context.Background(), "safety.weather", func(_ context.Context, c *tracing.Call) error {
		c.Fallback("timeout")
		return nil
	})
	require.NoError(t, err)

	recs := ledger.Records("safety.weather")
	require.Len(t, recs, 1)
	assert.Equal(t, tracing.OutcomeFallback, recs[0].Outcome)
	assert.Equal(t, "timeout", recs[0].Metadata["fallback_reason"])

	stats, _ := ledger.Stats("safety.weather")
	assert.Equal(t, 1, stats.Fallbacks)
}

func TestTrace_RecordsPanic(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	assert.Panics(t, func() {
		_ = ledger.Run(context.Background(), "alert_formatting", func(context.Context, *tracing.Call) error {
			panic("bad input")
		})
	})

	recs := ledger.Records("alert_formatting")
	require.Len(t, recs, 1)
	assert.Equal(t, tracing.OutcomeFailure, recs[0].Outcome)
	assert.Contains(t, recs[0].Error, "bad input")
}

func TestRecords_MetadataIsCopied(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	var leaked *tracing.Call
	err := ledger.Run(context.Background(), "session_append", func(_ context.Context, c *tracing.Call) error {
		c.Set("session", "s1")
		leaked = c
		return nil
	})
	require.NoError(t, err)

	leaked.Set("session", "late write")
	recs := ledger.Records("session_append")
	require.Len(t, recs, 1)
	recs[0].Metadata["session"] = "mutated by reader"

	again := ledger.Records("session_append")
	require.Len(t, again, 1)
	assert.Equal(t, "s1", again[0].Metadata["session"])
}

func TestStats_Aggregates(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	for _, d := range []time.Duration{10 * time.Millisecond, 30 * time.Millisecond} {
		_ = ledger.Run(context.Background(), "optimization", func(context.Context, *tracing.Call) error {
			time.Sleep(d)
			return nil
		})
	}

	stats, ok := ledger.Stats("optimization")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Count)
	assert.GreaterOrEqual(t, stats.MinDuration, 10*time.Millisecond)
	assert.GreaterOrEqual(t, stats.MaxDuration, 30*time.Millisecond)
	assert.LessOrEqual(t, stats.MinDuration, stats.AvgDuration)
	assert.LessOrEqual(t, stats.AvgDuration, stats.MaxDuration)

	_, ok = ledger.Stats("unknown")
	assert.False(t, ok)
}

func TestTracer_ConcurrentCalls(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	const workers, calls = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				_ = ledger.Run(context.Background(), "safety.crime", func(context.Context, *tracing.Call) error { return nil })
			}
		}()
	}
	wg.Wait()

	stats, _ := ledger.Stats("safety.crime")
	assert.Equal(t, workers*calls, stats.Count)
}

func TestTracer_RetentionKeepsAggregates(t *testing.T) {
	ledger, _ := newLedger(t, 3)

	for i := 0; i < 10; i++ {
		_ = ledger.Run(context.Background(), "session_append", func(context.Context, *tracing.Call) error { return nil })
	}

	assert.Len(t, ledger.Records("session_append"), 3)
	stats, _ := ledger.Stats("session_append")
	assert.Equal(t, 10, stats.Count)
}

func TestTracer_IndependentLedgers(t *testing.T) {
	a, _ := newLedger(t, 0)
	b, _ := newLedger(t, 0)

	_ = a.Run(context.Background(), "x", func(context.Context, *tracing.Call) error { return nil })

	assert.Len(t, a.AllStats(), 1)
	assert.Empty(t, b.AllStats())
}
