// Package safety gathers the four per-route safety sub-scores (weather,
// crime, lighting, time of day) by fanning out to independent sources and
// joining their readings into one immutable Data record.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/saferoute/saferoute/internal/routing"
)

// Category names one safety dimension.
type Category string

const (
	CategoryWeather  Category = "weather"
	CategoryCrime    Category = "crime"
	CategoryLighting Category = "lighting"
	CategoryTime     Category = "time"
)

// Categories lists every category in reporting order.
var Categories = []Category{CategoryWeather, CategoryCrime, CategoryLighting, CategoryTime}

// MaxScore is the cap of a category's sub-score. The caps sum to 10.
func (c Category) MaxScore() float64 {
	switch c {
	case CategoryWeather, CategoryCrime:
		return 3
	case CategoryLighting, CategoryTime:
		return 2
	}
	return 0
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c.MaxScore() > 0
}

// Origin tells real data from a substituted default.
type Origin string

const (
	OriginFetched  Origin = "fetched"
	OriginFallback Origin = "fallback"
)

// Reading is one category's sub-score.
type Reading struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
	Origin   Origin   `json:"origin"`
	// Summary is the short descriptive value: a weather condition,
	// "dark"/"daylight", a crime level or a local clock time.
	Summary string         `json:"summary"`
	Detail  map[string]any `json:"detail,omitempty"`
	// Reason explains a fallback.
	Reason string `json:"reason,omitempty"`
}

// IsFallback reports whether the reading is a substituted default.
func (r Reading) IsFallback() bool {
	return r.Origin == OriginFallback
}

// Fetcher is a source for one category. Implementations may fail; the
// Gatherer substitutes the configured default.
type Fetcher interface {
	Category() Category
	Fetch(ctx context.Context, at routing.Coordinate, when time.Time) (Reading, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc struct {
	Cat Category
	Fn  func(ctx context.Context, at routing.Coordinate, when time.Time) (Reading, error)
}

func (f FetcherFunc) Category() Category { return f.Cat }

func (f FetcherFunc) Fetch(ctx context.Context, at routing.Coordinate, when time.Time) (Reading, error) {
	return f.Fn(ctx, at, when)
}

// Defaults are the fallback sub-scores per category.
type Defaults map[Category]float64

// DefaultFallbacks returns the moderate default of 0.5 for every category.
func DefaultFallbacks() Defaults {
	return Defaults{
		CategoryWeather:  0.5,
		CategoryCrime:    0.5,
		CategoryLighting: 0.5,
		CategoryTime:     0.5,
	}
}

// Score returns the default for c, or 0.5 when unset.
func (d Defaults) Score(c Category) float64 {
	if v, ok := d[c]; ok {
		return v
	}
	return 0.5
}

// Fallback builds the default reading for c.
func (d Defaults) Fallback(c Category, reason string) Reading {
	return Reading{
		Category: c,
		Score:    d.Score(c),
		Origin:   OriginFallback,
		Summary:  "unknown",
		Reason:   reason,
	}
}

// Data is the joined safety record of a route. It is not mutated after Gather returns.
type Data struct {
	Weather  Reading `json:"weather"`
	Crime    Reading `json:"crime"`
	Lighting Reading `json:"lighting"`
	Time     Reading `json:"time"`

	SampledPoints int       `json:"sampled_points"`
	GatheredAt    time.Time `json:"gathered_at"`
}

// Reading returns the reading of one category.
func (d Data) Reading(c Category) (Reading, error) {
	switch c {
	case CategoryWeather:
		return d.Weather, nil
	case CategoryCrime:
		return d.Crime, nil
	case CategoryLighting:
		return d.Lighting, nil
	case CategoryTime:
		return d.Time, nil
	}
	return Reading{}, fmt.Errorf("unknown safety category %q", c)
}

// Scores returns the sub-score of every category.
func (d Data) Scores() map[Category]float64 {
	return map[Category]float64{
		CategoryWeather:  d.Weather.Score,
		CategoryCrime:    d.Crime.Score,
		CategoryLighting: d.Lighting.Score,
		CategoryTime:     d.Time.Score,
	}
}

// Fallbacks returns the categories that used a default.
func (d Data) Fallbacks() []Category {
	var out []Category
	for _, r := range []Reading{d.Weather, d.Crime, d.Lighting, d.Time} {
		if r.IsFallback() {
			out = append(out, r.Category)
		}
	}
	return out
}

// WeatherCondition, IsDark, LocalTime and CrimeLevel expose the descriptive fields.
func (d Data) WeatherCondition() string { return d.Weather.Summary }
func (d Data) IsDark() bool             { return d.Lighting.Summary == "dark" }
func (d Data) LocalTime() string        { return d.Time.Summary }
func (d Data) CrimeLevel() string       { return d.Crime.Summary }
