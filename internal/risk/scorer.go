// Package risk combines the four safety sub-scores into one bounded route
// risk assessment.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/saferoute/saferoute/internal/safety"
)

// ErrInvalidSubScore is returned for NaN, infinite or negative sub-scores.
var ErrInvalidSubScore = errors.New("invalid safety sub-score")

// MaxScore is the saturation point of the combined score.
const MaxScore = 10.0

// DefaultPrimaryFraction marks a category as a primary risk when its
// sub-score exceeds half of its maximum.
const DefaultPrimaryFraction = 0.5

// Category is the risk label of a combined score.
type Category string

const (
	CategorySafe      Category = "Safe"
	CategoryModerate  Category = "Moderate"
	CategoryHazardous Category = "Hazardous"
)

// Categorize maps a score on [0, 10] to its category: Safe on [0, 3],
// Moderate on (3, 6], Hazardous on (6, 10].
func Categorize(score float64) Category {
	switch {
	case score <= 3:
		return CategorySafe
	case score <= 6:
		return CategoryModerate
	default:
		return CategoryHazardous
	}
}

// Level is the coarse low/medium/high rendering of a category.
func (c Category) Level() string {
	switch c {
	case CategorySafe:
		return "low"
	case CategoryModerate:
		return "medium"
	case CategoryHazardous:
		return "high"
	}
	return ""
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c.Level() != ""
}

// PrimaryRisk is one category that dominates the score.
type PrimaryRisk struct {
	Category safety.Category `json:"category"`
	Score    float64         `json:"score"`
}

// Assessment is the immutable output of scoring.
type Assessment struct {
	Score          float64                     `json:"score"`
	Category       Category                    `json:"category"`
	Level          string                      `json:"level"`
	Breakdown      map[safety.Category]float64 `json:"breakdown"`
	PrimaryRisks   []PrimaryRisk               `json:"primary_risks"`
	Recommendation string                      `json:"recommendation"`
}

// IsHighRisk reports whether the assessment is Hazardous.
func (a Assessment) IsHighRisk() bool {
	return a.Category == CategoryHazardous
}

// Scorer derives an Assessment from safety data.
type Scorer struct {
	primaryFraction float64
}

// NewScorer creates a scorer. A fraction outside (0, 1) uses the default.
func NewScorer(primaryFraction float64) *Scorer {
	if primaryFraction <= 0 || primaryFraction >= 1 {
		primaryFraction = DefaultPrimaryFraction
	}
	return &Scorer{primaryFraction: primaryFraction}
}

// Score caps each sub-score at its category maximum and sums them,
// saturating at 10. The sum is not rounded.
func (s *Scorer) Score(data safety.Data) (Assessment, error) {
	breakdown := make(map[safety.Category]float64, len(safety.Categories))
	var total float64
	var primary []PrimaryRisk

	for _, cat := range safety.Categories {
		r, err := data.Reading(cat)
		if err != nil {
			return Assessment{}, err
		}
		v := r.Score
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Assessment{}, fmt.Errorf("%w: %s=%v", ErrInvalidSubScore, cat, v)
		}
		v = math.Min(v, cat.MaxScore())
		breakdown[cat] = v
		total += v

		if v > s.primaryFraction*cat.MaxScore() {
			primary = append(primary, PrimaryRisk{Category: cat, Score: v})
		}
	}

	sort.SliceStable(primary, func(i, j int) bool { return primary[i].Score > primary[j].Score })

	total = math.Min(total, MaxScore)
	category := Categorize(total)
	return Assessment{
		Score:          total,
		Category:       category,
		Level:          category.Level(),
		Breakdown:      breakdown,
		PrimaryRisks:   primary,
		Recommendation: recommendation(category),
	}, nil
}

func recommendation(c Category) string {
	switch c {
	case CategorySafe:
		return "Route is safe to travel"
	case CategoryModerate:
		return "Exercise caution"
	default:
		return "Consider alternative route or delay travel"
	}
}
