// Package weather scores current weather conditions as a travel risk.
package weather

import (
	"context"
	"errors"
	"time"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNoDataForLocation   = errors.New("no weather data for location")
)

// Provider fetches current conditions for a point.
type Provider interface {
	GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error)
	Name() string
}

// Observation represents weather at a specific point and time.
type Observation struct {
	Lat float64
	Lon float64

	Temperature float64 // Celsius
	Humidity    float64 // percent
	WindSpeed   float64 // m/s
	WindGust    float64 // m/s, 0 if not reported
	Visibility  float64 // meters

	Condition   Condition
	Description string

	ObservedAt time.Time
	FetchedAt  time.Time
}

// VisibilityKm returns the visibility in kilometers.
func (o *Observation) VisibilityKm() float64 {
	return o.Visibility / 1000
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "clear"
	ConditionClouds       Condition = "clouds"
	ConditionRain         Condition = "rain"
	ConditionDrizzle      Condition = "drizzle"
	ConditionThunderstorm Condition = "thunderstorm"
	ConditionSnow         Condition = "snow"
	ConditionMist         Condition = "mist"
	ConditionFog          Condition = "fog"
	ConditionExtreme      Condition = "extreme"
	ConditionHaze         Condition = "haze"
	ConditionUnknown      Condition = "unknown"
)

// Risk contribution of each hazard.
const (
	riskBase             = 0.5
	riskPrecipitation    = 2.0 // rain, thunderstorm, snow, extreme
	riskLowVisibilityWet = 1.5 // drizzle, mist, fog
	riskExtremeTemp      = 1.5 // below 0C or above 35C
	riskHighWind         = 1.3 // above 15 m/s
	riskVisibilityUnder1 = 2.0
	riskVisibilityUnder3 = 1.5
	maxRisk              = 3.0

	highWindMetersPerSec = 15.0
	coldCelsius          = 0.0
	hotCelsius           = 35.0
)

// Risk scores an observation on [0, 3]. Hazards add up; a calm
// observation scores the base 0.5. The named factors are returned for display.
func Risk(o *Observation) (float64, []string) {
	var score float64
	var factors []string

	switch o.Condition {
	case ConditionRain, ConditionThunderstorm, ConditionSnow, ConditionExtreme:
		score += riskPrecipitation
		factors = append(factors, string(o.Condition))
	case ConditionDrizzle, ConditionMist, ConditionFog:
		score += riskLowVisibilityWet
		factors = append(factors, string(o.Condition))
	}

	if o.Temperature < coldCelsius || o.Temperature > hotCelsius {
		score += riskExtremeTemp
		factors = append(factors, "extreme_temperature")
	}

	if o.WindSpeed > highWindMetersPerSec {
		score += riskHighWind
		factors = append(factors, "high_wind")
	}

	switch vis := o.VisibilityKm(); {
	case vis < 1:
		score += riskVisibilityUnder1
		factors = append(factors, "very_poor_visibility")
	case vis < 3:
		score += riskVisibilityUnder3
		factors = append(factors, "poor_visibility")
	}

	if score == 0 {
		return riskBase, nil
	}
	if score > maxRisk {
		score = maxRisk
	}
	return score, factors
}
