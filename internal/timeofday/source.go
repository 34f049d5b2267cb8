// Package timeofday scores travel risk from the local hour of departure.
package timeofday

import (
	"context"
	"time"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

// Period names a band of the day.
type Period string

const (
	PeriodLateNight Period = "late_night"
	PeriodEvening   Period = "evening"
	PeriodRushHour  Period = "rush_hour"
	PeriodDaytime   Period = "daytime"
)

// Classify returns the period of an hour (0-23) and its raw risk. The late
// night risk of 2.5 exceeds the category cap and is clamped downstream.
func Classify(hour int) (Period, float64) {
	switch {
	case hour >= 22 || hour < 6:
		return PeriodLateNight, 2.5
	case hour >= 18:
		return PeriodEvening, 1.5
	case hour < 9 || hour == 17:
		return PeriodRushHour, 1.2
	default:
		return PeriodDaytime, 0.5
	}
}

// Source implements safety.Fetcher. It never fails.
type Source struct {
	// Location is the clock travellers are assumed to read (default: time.Local).
	Location *time.Location
}

var _ safety.Fetcher = Source{}

// Category returns safety.CategoryTime.
func (Source) Category() safety.Category {
	return safety.CategoryTime
}

// Fetch classifies when in the source's location. Summary is the local "HH:MM".
func (s Source) Fetch(_ context.Context, _ routing.Coordinate, when time.Time) (safety.Reading, error) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	local := when.In(loc)
	period, score := Classify(local.Hour())
	return safety.Reading{
		Category: safety.CategoryTime,
		Score:    score,
		Origin:   safety.OriginFetched,
		Summary:  local.Format("15:04"),
		Detail: map[string]any{
			"hour":   local.Hour(),
			"period": string(period),
		},
	}, nil
}
