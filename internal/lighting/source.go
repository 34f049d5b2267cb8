package lighting

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

// SourceConfig holds configuration for the lighting safety source.
type SourceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheGridSize in degrees (default: 0.5). Sun times barely move within a cell.
	CacheGridSize float64

	// CacheTTL bounds how long a cell's sun times are kept (default: 24 hours).
	CacheTTL time.Duration
}

// Source implements safety.Fetcher for daylight.
type Source struct {
	provider Provider
	logger   zerolog.Logger
	gridSize float64
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSunTimes
}

type cachedSunTimes struct {
	sun       *SunTimes
	expiresAt time.Time
}

var _ safety.Fetcher = (*Source)(nil)

// NewSource creates a lighting source.
func NewSource(cfg SourceConfig) *Source {
	s := &Source{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		gridSize: cfg.CacheGridSize,
		ttl:      cfg.CacheTTL,
		cache:    make(map[string]cachedSunTimes),
	}
	if s.gridSize <= 0 {
		s.gridSize = 0.5
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	return s
}

// Category returns safety.CategoryLighting.
func (s *Source) Category() safety.Category {
	return safety.CategoryLighting
}

// Fetch reports whether it is dark at the point at the given time.
func (s *Source) Fetch(ctx context.Context, at routing.Coordinate, when time.Time) (safety.Reading, error) {
	if s.provider == nil {
		return safety.Reading{}, ErrProviderUnavailable
	}

	date := when.UTC().Truncate(24 * time.Hour)
	key := fmt.Sprintf("%.1f,%.1f@%s",
		math.Floor(at.Lat/s.gridSize)*s.gridSize,
		math.Floor(at.Lon/s.gridSize)*s.gridSize,
		date.Format(time.DateOnly))

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	sun := cached.sun
	if !ok || time.Now().After(cached.expiresAt) {
		var err error
		sun, err = s.provider.GetSunTimes(ctx, at.Lat, at.Lon, date)
		if err != nil {
			return safety.Reading{}, fmt.Errorf("%s: %w", s.provider.Name(), err)
		}
		now := time.Now()
		s.mu.Lock()
		s.evictLocked(now)
		s.cache[key] = cachedSunTimes{sun: sun, expiresAt: now.Add(s.ttl)}
		s.mu.Unlock()
	} else {
		s.logger.Debug().Str("key", key).Msg("sun times cache hit")
	}

	r := safety.Reading{
		Category: safety.CategoryLighting,
		Score:    DaylightScore,
		Origin:   safety.OriginFetched,
		Summary:  SummaryDaylight,
		Detail: map[string]any{
			"sunrise": sun.Sunrise.Format(time.TimeOnly),
			"sunset":  sun.Sunset.Format(time.TimeOnly),
			"date":    date.Format(time.DateOnly),
		},
	}
	if sun.IsDark(when) {
		r.Score = DarkScore
		r.Summary = SummaryDark
	}
	return r, nil
}

func (s *Source) evictLocked(now time.Time) {
	for key, c := range s.cache {
		if now.After(c.expiresAt) {
			delete(s.cache, key)
		}
	}
}

// CacheSize returns the number of cached cells.
func (s *Source) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
