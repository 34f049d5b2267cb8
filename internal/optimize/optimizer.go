// Package optimize proposes an alternative route for risky trips and
// compares it with the original.
package optimize

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
)

// Defaults for the risk estimate of an alternative.
const (
	// DefaultRiskReduction is subtracted from the original score to
	// estimate the alternative's risk.
	DefaultRiskReduction = 1.5
	// DefaultMinImprovement is the risk improvement an alternative must
	// strictly exceed to be recommended.
	DefaultMinImprovement = 1.0
)

// AlternativeFinder returns another route for the trip of an analysis.
type AlternativeFinder interface {
	Alternative(ctx context.Context, a routing.Analysis) (routing.Analysis, error)
}

// Config holds configuration for the Optimizer.
type Config struct {
	Finder         AlternativeFinder
	Logger         zerolog.Logger
	RiskReduction  float64
	MinImprovement float64
}

// Comparison holds alternative minus original deltas. Negative distance and
// duration deltas mean the alternative is shorter; RiskImprovement is
// original minus alternative.
type Comparison struct {
	DistanceDeltaKm      float64 `json:"distance_delta_km"`
	DurationDeltaMinutes float64 `json:"duration_delta_minutes"`
	RiskDelta            float64 `json:"risk_delta"`
	RiskImprovement      float64 `json:"risk_improvement"`
}

// Result is the outcome of optimization.
type Result struct {
	Alternative     routing.Analysis `json:"alternative"`
	OriginalRisk    float64          `json:"original_risk"`
	AlternativeRisk float64          `json:"alternative_risk"`
	Comparison      Comparison       `json:"comparison"`
	// Recommended is set when the alternative is worth taking.
	Recommended    bool   `json:"recommended"`
	Recommendation string `json:"recommendation"`
}

// Optimizer compares a route with its alternative. It is deterministic
// for a deterministic finder.
type Optimizer struct {
	finder         AlternativeFinder
	logger         zerolog.Logger
	riskReduction  float64
	minImprovement float64
}

// NewOptimizer creates an optimizer.
func NewOptimizer(cfg Config) *Optimizer {
	o := &Optimizer{
		finder:         cfg.Finder,
		logger:         cfg.Logger,
		riskReduction:  cfg.RiskReduction,
		minImprovement: cfg.MinImprovement,
	}
	if o.riskReduction <= 0 {
		o.riskReduction = DefaultRiskReduction
	}
	if o.minImprovement <= 0 {
		o.minImprovement = DefaultMinImprovement
	}
	return o
}

// Optimize fetches the alternative route and compares it with the original.
func (o *Optimizer) Optimize(ctx context.Context, original routing.Analysis, assessment risk.Assessment) (Result, error) {
	if o.finder == nil {
		return Result{}, fmt.Errorf("optimize: no route finder configured")
	}

	alt, err := o.finder.Alternative(ctx, original)
	if err != nil {
		return Result{}, fmt.Errorf("finding alternative route: %w", err)
	}

	altRisk := math.Max(0, assessment.Score-o.riskReduction)
	improvement := assessment.Score - altRisk

	res := Result{
		Alternative:     alt,
		OriginalRisk:    assessment.Score,
		AlternativeRisk: altRisk,
		Comparison: Comparison{
			DistanceDeltaKm:      alt.DistanceKm() - original.DistanceKm(),
			DurationDeltaMinutes: alt.DurationMinutes() - original.DurationMinutes(),
			RiskDelta:            altRisk - assessment.Score,
			RiskImprovement:      improvement,
		},
		Recommended:    altRisk < assessment.Score && improvement > o.minImprovement,
		Recommendation: "Original route acceptable",
	}
	if res.Recommended {
		res.Recommendation = "Use alternative route"
	}

	o.logger.Debug().
		Float64("original_risk", res.OriginalRisk).
		Float64("alternative_risk", res.AlternativeRisk).
		Bool("recommended", res.Recommended).
		Msg("compared alternative route")

	return res, nil
}
