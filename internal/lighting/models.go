// Package lighting scores daylight along a route from sunrise and sunset times.
package lighting

import (
	"context"
	"errors"
	"time"
)

// Lighting errors.
var (
	ErrProviderUnavailable = errors.New("daylight provider unavailable")
	ErrInvalidResponse     = errors.New("daylight provider returned an invalid response")
)

// Sub-scores.
const (
	DarkScore     = 2.0
	DaylightScore = 0.5
)

// Summaries reported on the reading.
const (
	SummaryDark     = "dark"
	SummaryDaylight = "daylight"
)

// Provider returns the sun times of a location on a date.
type Provider interface {
	GetSunTimes(ctx context.Context, lat, lon float64, date time.Time) (*SunTimes, error)
	Name() string
}

// SunTimes holds sunrise and sunset in UTC.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
	// DayLength is zero during polar night.
	DayLength time.Duration
}

// IsDark reports whether when falls before sunrise or at or after sunset.
// A zero-length day with coinciding bounds is polar night.
func (s *SunTimes) IsDark(when time.Time) bool {
	if s.DayLength == 0 && s.Sunrise.Equal(s.Sunset) {
		return true
	}
	t := when.UTC()
	return t.Before(s.Sunrise) || !t.Before(s.Sunset)
}
