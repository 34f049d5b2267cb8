// Package alert renders a risk assessment as a human-readable safety alert.
package alert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/pkg/optional"
)

// ErrUnknownCategory is returned for an assessment without a known category.
var ErrUnknownCategory = errors.New("unknown risk category")

// Severity of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Urgency of an alert.
type Urgency string

const (
	UrgencyInformational Urgency = "informational"
	UrgencyCaution       Urgency = "caution"
	UrgencyImmediate     Urgency = "immediate"
)

// Alert is the formatted, user-facing output of the pipeline.
type Alert struct {
	Severity       Severity `json:"severity"`
	Urgency        Urgency  `json:"urgency"`
	Headline       string   `json:"headline"`
	RiskScore      float64  `json:"risk_score"`
	RiskLevel      string   `json:"risk_level"`
	RiskFactors    string   `json:"risk_factors"`
	Recommendation string   `json:"recommendation"`
	Actions        []string `json:"actions"`
	RouteDetails   string   `json:"route_details,omitempty"`
	// AlternativeNote is set when a recommended alternative route exists.
	AlternativeNote string `json:"alternative_note,omitempty"`
	Text            string `json:"text"`
}

type template struct {
	severity Severity
	urgency  Urgency
	headline string
	actions  []string
}

var templates = map[risk.Category]template{
	risk.CategoryHazardous: {
		severity: SeverityHigh,
		urgency:  UrgencyImmediate,
		headline: "HIGH RISK ALERT: This route has significant safety concerns.",
		actions: []string{
			"Consider delaying travel if possible",
			"Use alternative route if available",
			"Travel with others if necessary",
			"Stay alert and avoid distractions",
		},
	},
	risk.CategoryModerate: {
		severity: SeverityMedium,
		urgency:  UrgencyCaution,
		headline: "MODERATE RISK: Exercise caution on this route.",
		actions: []string{
			"Be aware of your surroundings",
			"Stay in well-lit areas",
			"Keep phone charged and accessible",
			"Consider alternative route if convenient",
		},
	},
	risk.CategorySafe: {
		severity: SeverityLow,
		urgency:  UrgencyInformational,
		headline: "Route appears safe for travel.",
		actions: []string{
			"Standard safety precautions apply",
			"Stay aware of changing conditions",
		},
	},
}

// Narrator formats alerts. It holds no state.
type Narrator struct{}

// NewNarrator creates a Narrator.
func NewNarrator() *Narrator {
	return &Narrator{}
}

// FormatAlert renders the assessment of a route and, when present, the
// optimization outcome.
func (n *Narrator) FormatAlert(route routing.Analysis, a risk.Assessment, opt optional.Optional[optimize.Result]) (Alert, error) {
	tpl, ok := templates[a.Category]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %q", ErrUnknownCategory, a.Category)
	}

	factors := make([]string, len(a.PrimaryRisks))
	for i, p := range a.PrimaryRisks {
		factors[i] = fmt.Sprintf("%s (score: %.2f)", p.Category, p.Score)
	}

	out := Alert{
		Severity:       tpl.severity,
		Urgency:        tpl.urgency,
		Headline:       tpl.headline,
		RiskScore:      a.Score,
		RiskLevel:      string(a.Category),
		RiskFactors:    strings.Join(factors, ", "),
		Recommendation: a.Recommendation,
		Actions:        append([]string(nil), tpl.actions...),
	}
	if route.DistanceMeters > 0 {
		out.RouteDetails = fmt.Sprintf("Route: %.2f km, ~%.0f minutes", route.DistanceKm(), route.DurationMinutes())
	}
	if res, ok := opt.Get(); ok && res.Recommended {
		out.AlternativeNote = fmt.Sprintf(
			"Alternative route available: risk improvement %.2f points, distance difference %.2f km, time difference %.2f minutes. %s",
			res.Comparison.RiskImprovement,
			res.Comparison.DistanceDeltaKm,
			res.Comparison.DurationDeltaMinutes,
			res.Recommendation,
		)
	}
	out.Text = render(out)
	return out, nil
}

func render(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Headline)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Risk Score: %.2f/10 (%s)\n", a.RiskScore, a.RiskLevel)
	if a.RiskFactors != "" {
		fmt.Fprintf(&b, "Primary Concerns: %s\n", a.RiskFactors)
	}
	if a.RouteDetails != "" {
		b.WriteString(a.RouteDetails)
		b.WriteString("\n")
	}
	if a.Recommendation != "" {
		fmt.Fprintf(&b, "\nRecommendation: %s\n", a.Recommendation)
	}
	b.WriteString("\nSafety Actions:\n")
	for _, action := range a.Actions {
		fmt.Fprintf(&b, "- %s\n", action)
	}
	if a.AlternativeNote != "" {
		b.WriteString("\n")
		b.WriteString(a.AlternativeNote)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
