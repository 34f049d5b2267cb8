package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

// SourceConfig holds configuration for the weather safety source.
type SourceConfig struct {
	// Provider is the weather data provider.
	Provider Provider

	// Logger for source operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache observations (default: 10 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.1).
	// Points within the same grid cell share cached data.
	CacheGridSize float64
}

// Source scores weather along a route. It implements safety.Fetcher.
type Source struct {
	provider      Provider
	logger        zerolog.Logger
	cacheTTL      time.Duration
	cacheGridSize float64

	mu    sync.RWMutex
	cache map[string]cachedObservation
}

type cachedObservation struct {
	observation *Observation
	expiresAt   time.Time
}

var _ safety.Fetcher = (*Source)(nil)

// NewSource creates a weather source.
func NewSource(cfg SourceConfig) *Source {
	s := &Source{
		provider:      cfg.Provider,
		logger:        cfg.Logger,
		cacheTTL:      cfg.CacheTTL,
		cacheGridSize: cfg.CacheGridSize,
		cache:         make(map[string]cachedObservation),
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 10 * time.Minute
	}
	if s.cacheGridSize <= 0 {
		s.cacheGridSize = 0.1
	}
	return s
}

// Category returns safety.CategoryWeather.
func (s *Source) Category() safety.Category {
	return safety.CategoryWeather
}

// Fetch scores the current weather at a point. The time argument is
// ignored because only current conditions are available.
func (s *Source) Fetch(ctx context.Context, at routing.Coordinate, _ time.Time) (safety.Reading, error) {
	obs, err := s.observation(ctx, at)
	if err != nil {
		return safety.Reading{}, err
	}

	score, factors := Risk(obs)
	return safety.Reading{
		Category: safety.CategoryWeather,
		Score:    score,
		Origin:   safety.OriginFetched,
		Summary:  string(obs.Condition),
		Detail: map[string]any{
			"description":   obs.Description,
			"temperature_c": math.Round(obs.Temperature*10) / 10,
			"wind_speed_ms": math.Round(obs.WindSpeed*10) / 10,
			"visibility_km": math.Round(obs.VisibilityKm()*100) / 100,
			"factors":       factors,
		},
	}, nil
}

func (s *Source) observation(ctx context.Context, at routing.Coordinate) (*Observation, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	key := s.cacheKey(at)
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.observation, nil
	}

	s.logger.Debug().
		Float64("lat", at.Lat).
		Float64("lon", at.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching weather from provider")

	obs, err := s.provider.GetCurrentWeather(ctx, at.Lat, at.Lon)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.provider.Name(), err)
	}

	now := time.Now()
	s.mu.Lock()
	s.evictLocked(now)
	s.cache[key] = cachedObservation{observation: obs, expiresAt: now.Add(s.cacheTTL)}
	s.mu.Unlock()
	return obs, nil
}

func (s *Source) evictLocked(now time.Time) {
	for key, c := range s.cache {
		if now.After(c.expiresAt) {
			delete(s.cache, key)
		}
	}
}

// CacheSize returns the number of cached observations.
func (s *Source) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Source) cacheKey(at routing.Coordinate) string {
	gridLat := math.Floor(at.Lat/s.cacheGridSize) * s.cacheGridSize
	gridLon := math.Floor(at.Lon/s.cacheGridSize) * s.cacheGridSize
	return fmt.Sprintf("%.2f,%.2f", gridLat, gridLon)
}
