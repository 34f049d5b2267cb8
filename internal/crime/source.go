package crime

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

// SourceConfig holds configuration for the crime safety source.
type SourceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL (default: 6 hours). Street crime is published monthly.
	CacheTTL time.Duration

	// CacheGridSize in degrees (default: 0.01).
	CacheGridSize float64
}

// Source implements safety.Fetcher from a crime Provider.
type Source struct {
	provider Provider
	logger   zerolog.Logger
	ttl      time.Duration
	gridSize float64

	mu    sync.RWMutex
	cache map[string]cachedCount
}

type cachedCount struct {
	incidents []Incident
	expiresAt time.Time
}

var _ safety.Fetcher = (*Source)(nil)

// NewSource creates a crime source.
func NewSource(cfg SourceConfig) *Source {
	s := &Source{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		ttl:      cfg.CacheTTL,
		gridSize: cfg.CacheGridSize,
		cache:    make(map[string]cachedCount),
	}
	if s.ttl <= 0 {
		s.ttl = 6 * time.Hour
	}
	if s.gridSize <= 0 {
		s.gridSize = 0.01
	}
	return s
}

// Category returns safety.CategoryCrime.
func (s *Source) Category() safety.Category {
	return safety.CategoryCrime
}

// Fetch scores incidents reported near the point.
func (s *Source) Fetch(ctx context.Context, at routing.Coordinate, _ time.Time) (safety.Reading, error) {
	if s.provider == nil {
		return safety.Reading{}, ErrProviderUnavailable
	}

	key := fmt.Sprintf("%.3f,%.3f",
		math.Floor(at.Lat/s.gridSize)*s.gridSize,
		math.Floor(at.Lon/s.gridSize)*s.gridSize)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	incidents := cached.incidents
	if !ok || time.Now().After(cached.expiresAt) {
		var err error
		incidents, err = s.provider.GetIncidents(ctx, at.Lat, at.Lon)
		if err != nil {
			return safety.Reading{}, fmt.Errorf("%s: %w", s.provider.Name(), err)
		}
		now := time.Now()
		s.mu.Lock()
		s.evictLocked(now)
		s.cache[key] = cachedCount{incidents: incidents, expiresAt: now.Add(s.ttl)}
		s.mu.Unlock()
	}

	level, score := Score(len(incidents))
	s.logger.Debug().
		Int("incidents", len(incidents)).
		Str("level", string(level)).
		Msg("scored crime")

	return safety.Reading{
		Category: safety.CategoryCrime,
		Score:    score,
		Origin:   safety.OriginFetched,
		Summary:  string(level),
		Detail: map[string]any{
			"incidents":      len(incidents),
			"top_categories": TopCategories(incidents, 3),
			"source":         s.provider.Name(),
		},
	}, nil
}

// Static is a crime source for regions without open crime data. It
// always reports the same moderate sub-score.
type Static struct {
	Score float64
}

var _ safety.Fetcher = Static{}

// Category returns safety.CategoryCrime.
func (Static) Category() safety.Category {
	return safety.CategoryCrime
}

// Fetch returns the static reading.
func (s Static) Fetch(context.Context, routing.Coordinate, time.Time) (safety.Reading, error) {
	return safety.Reading{
		Category: safety.CategoryCrime,
		Score:    s.Score,
		Origin:   safety.OriginFetched,
		Summary:  "unassessed",
		Detail:   map[string]any{"source": DataSourceFallback},
	}, nil
}

// NewFetcher selects the crime source for a configured data source name.
func NewFetcher(dataSource string, p Provider, fallbackScore float64, logger zerolog.Logger) (safety.Fetcher, error) {
	switch dataSource {
	case DataSourceFallback, "":
		return Static{Score: fallbackScore}, nil
	case DataSourcePoliceUK:
		return NewSource(SourceConfig{Provider: p, Logger: logger}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDataSource, dataSource)
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
