package optimize_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
)

type stubFinder struct {
	alt   routing.Analysis
	err   error
	calls int
}

func (s *stubFinder) Alternative(context.Context, routing.Analysis) (routing.Analysis, error) {
	s.calls++
	return s.alt, s.err
}

func TestOptimizer_Optimize(t *testing.T) {
	original := routing.Analysis{DistanceMeters: 20000, DurationSeconds: 1800}
	finder := &stubFinder{alt: routing.Analysis{DistanceMeters: 23500, DurationSeconds: 2100}}
	opt := optimize.NewOptimizer(optimize.Config{Finder: finder, Logger: zerolog.Nop()})

	res, err := opt.Optimize(context.Background(), original, risk.Assessment{Score: 5})
	require.NoError(t, err)

	assert.Equal(t, 5.0, res.OriginalRisk)
	assert.Equal(t, 3.5, res.AlternativeRisk)
	assert.InDelta(t, 3.5, res.Comparison.DistanceDeltaKm, 1e-9)
	assert.InDelta(t, 5.0, res.Comparison.DurationDeltaMinutes, 1e-9)
	assert.Equal(t, -1.5, res.Comparison.RiskDelta)
	assert.Equal(t, 1.5, res.Comparison.RiskImprovement)
	assert.True(t, res.Recommended)
	assert.Equal(t, "Use alternative route", res.Recommendation)
}

func TestOptimizer_LowScoreNotRecommended(t *testing.T) {
	opt := optimize.NewOptimizer(optimize.Config{Finder: &stubFinder{}, Logger: zerolog.Nop()})

	res, err := opt.Optimize(context.Background(), routing.Analysis{}, risk.Assessment{Score: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.AlternativeRisk)
	assert.InDelta(t, 0.8, res.Comparison.RiskImprovement, 1e-9)
	assert.False(t, res.Recommended)
}

func TestOptimizer_Idempotent(t *testing.T) {
	finder := &stubFinder{alt: routing.Analysis{DistanceMeters: 1000}}
	opt := optimize.NewOptimizer(optimize.Config{Finder: finder, Logger: zerolog.Nop()})
	a := risk.Assessment{Score: 4}

	first, err := opt.Optimize(context.Background(), routing.Analysis{}, a)
	require.NoError(t, err)
	second, err := opt.Optimize(context.Background(), routing.Analysis{}, a)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, finder.calls)
}

func TestOptimizer_FinderError(t *testing.T) {
	opt := optimize.NewOptimizer(optimize.Config{
		Finder: &stubFinder{err: routing.ErrNoAlternative},
		Logger: zerolog.Nop(),
	})
	_, err := opt.Optimize(context.Background(), routing.Analysis{}, risk.Assessment{Score: 7})
	assert.ErrorIs(t, err, routing.ErrNoAlternative)

	_, err = optimize.NewOptimizer(optimize.Config{}).Optimize(context.Background(), routing.Analysis{}, risk.Assessment{})
	assert.Error(t, err)
}
