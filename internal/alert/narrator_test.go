package alert_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/pkg/optional"
)

func TestNarrator_FormatAlert(t *testing.T) {
	tests := []struct {
		category risk.Category
		severity alert.Severity
		urgency  alert.Urgency
		headline string
		actions  int
	}{
		{risk.CategoryHazardous, alert.SeverityHigh, alert.UrgencyImmediate, "HIGH RISK ALERT: This route has significant safety concerns.", 4},
		{risk.CategoryModerate, alert.SeverityMedium, alert.UrgencyCaution, "MODERATE RISK: Exercise caution on this route.", 4},
		{risk.CategorySafe, alert.SeverityLow, alert.UrgencyInformational, "Route appears safe for travel.", 2},
	}

	n := alert.NewNarrator()
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			a, err := n.FormatAlert(routing.Analysis{}, risk.Assessment{Category: tt.category}, optional.None[optimize.Result]())
			require.NoError(t, err)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.urgency, a.Urgency)
			assert.Equal(t, tt.headline, a.Headline)
			assert.Len(t, a.Actions, tt.actions)
			assert.True(t, strings.HasPrefix(a.Text, tt.headline))
		})
	}
}

func TestNarrator_FormatAlert_Details(t *testing.T) {
	route := routing.Analysis{DistanceMeters: 17420, DurationSeconds: 1260}
	assessment := risk.Assessment{
		Score:          5,
		Category:       risk.CategoryModerate,
		Recommendation: "Exercise caution",
		PrimaryRisks: []risk.PrimaryRisk{
			{Category: safety.CategoryCrime, Score: 2},
			{Category: safety.CategoryTime, Score: 2},
		},
	}
	opt := optional.Some(optimize.Result{
		Recommended:    true,
		Recommendation: "Use alternative route",
		Comparison:     optimize.Comparison{RiskImprovement: 1.5, DistanceDeltaKm: 2.1, DurationDeltaMinutes: 4},
	})

	a, err := alert.NewNarrator().FormatAlert(route, assessment, opt)
	require.NoError(t, err)

	assert.Equal(t, "crime (score: 2.00), time (score: 2.00)", a.RiskFactors)
	assert.Equal(t, "Route: 17.42 km, ~21 minutes", a.RouteDetails)
	assert.Contains(t, a.AlternativeNote, "risk improvement 1.50 points")
	assert.Contains(t, a.Text, "Risk Score: 5.00/10 (Moderate)")
	assert.Contains(t, a.Text, "- Stay in well-lit areas")
	assert.Contains(t, a.Text, "Use alternative route")
}

func TestNarrator_FormatAlert_NotRecommendedAlternative(t *testing.T) {
	opt := optional.Some(optimize.Result{Recommended: false})
	a, err := alert.NewNarrator().FormatAlert(routing.Analysis{}, risk.Assessment{Category: risk.CategoryModerate}, opt)
	require.NoError(t, err)
	assert.Empty(t, a.AlternativeNote)
}

func TestNarrator_FormatAlert_UnknownCategory(t *testing.T) {
	_, err := alert.NewNarrator().FormatAlert(routing.Analysis{}, risk.Assessment{Category: "Apocalyptic"}, optional.None[optimize.Result]())
	assert.ErrorIs(t, err, alert.ErrUnknownCategory)
}
