// Package crime scores reported street crime near route points.
package crime

import (
	"context"
	"errors"
	"sort"
)

// Crime errors.
var (
	ErrProviderUnavailable = errors.New("crime provider unavailable")
	ErrUnknownDataSource   = errors.New("unknown crime data source")
)

// Data sources selectable by configuration.
const (
	DataSourceFallback = "fallback"
	DataSourcePoliceUK = "police_uk"
)

// Provider returns street-level incidents near a point.
type Provider interface {
	// GetIncidents returns incidents within the provider's fixed radius
	// for the latest month it has published.
	GetIncidents(ctx context.Context, lat, lon float64) ([]Incident, error)
	Name() string
}

// Incident is one reported crime.
type Incident struct {
	Category string
	Month    string
	Street   string
}

// Level is a coarse crime density band.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very_high"
)

// Banding of monthly incident counts within one mile. Each band maps to a
// sub-score on [0, 3].
var bands = []struct {
	below int
	level Level
	score float64
}{
	{25, LevelLow, 0.5},
	{100, LevelModerate, 1.5},
	{250, LevelHigh, 2.5},
}

// Score maps a monthly incident count to a level and a sub-score.
func Score(incidents int) (Level, float64) {
	for _, b := range bands {
		if incidents < b.below {
			return b.level, b.score
		}
	}
	return LevelVeryHigh, 3.0
}

// TopCategories returns the most frequent incident categories, at most n,
// ordered by count then name.
func TopCategories(incidents []Incident, n int) []string {
	counts := make(map[string]int)
	for _, in := range incidents {
		counts[in.Category]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
