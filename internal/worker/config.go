// Package worker runs SafeRoute background jobs delivered over Pub/Sub:
// batch analyses, pipeline health checks and safety-source cache warming.
package worker

import (
	"sort"
	"time"

	"github.com/saferoute/saferoute/internal/routing"
)

// WarmTarget is a named area whose safety data is kept warm.
type WarmTarget struct {
	Name   string
	Points []routing.Coordinate
	// Priority orders warming (lower first).
	Priority int
}

// WarmConfig holds configuration for the cache warming job.
type WarmConfig struct {
	// Targets defaults to DefaultWarmTargets.
	Targets []WarmTarget

	// Concurrency is the number of points warmed at once (default: 3).
	Concurrency int

	// Timeout bounds the work for one point (default: 30 seconds).
	Timeout time.Duration
}

// DefaultWarmConfig returns the default warming configuration.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Targets:     DefaultWarmTargets(),
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

// DefaultWarmTargets covers the busiest commuter areas of the police.uk
// coverage region.
func DefaultWarmTargets() []WarmTarget {
	return []WarmTarget{
		{
			Name:     "London",
			Priority: 1,
			Points: []routing.Coordinate{
				{Lat: 51.5074, Lon: -0.1278}, // Charing Cross
				{Lat: 51.5033, Lon: -0.1195}, // Waterloo
				{Lat: 51.5308, Lon: -0.1238}, // King's Cross
				{Lat: 51.5155, Lon: -0.0922}, // City
				{Lat: 51.4700, Lon: -0.4543}, // Heathrow
			},
		},
		{
			Name:     "Manchester",
			Priority: 1,
			Points: []routing.Coordinate{
				{Lat: 53.4774, Lon: -2.2309}, // Piccadilly
				{Lat: 53.4808, Lon: -2.2426}, // City centre
			},
		},
		{
			Name:     "Birmingham",
			Priority: 2,
			Points: []routing.Coordinate{
				{Lat: 52.4778, Lon: -1.8990}, // New Street
			},
		},
		{
			Name:     "Leeds",
			Priority: 2,
			Points: []routing.Coordinate{
				{Lat: 53.7950, Lon: -1.5477}, // Leeds station
			},
		},
		{
			Name:     "Bristol",
			Priority: 3,
			Points: []routing.Coordinate{
				{Lat: 51.4491, Lon: -2.5813}, // Temple Meads
			},
		},
	}
}

// AllPoints returns every point, higher priority targets first.
func (c WarmConfig) AllPoints() []routing.Coordinate {
	targets := make([]WarmTarget, len(c.Targets))
	copy(targets, c.Targets)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	var points []routing.Coordinate
	for _, t := range targets {
		points = append(points, t.Points...)
	}
	return points
}

// TotalPoints returns the number of points to warm.
func (c WarmConfig) TotalPoints() int {
	total := 0
	for _, t := range c.Targets {
		total += len(t.Points)
	}
	return total
}
