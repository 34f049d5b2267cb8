package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/pkg/polyline"
)

// ErrNoAlternative is returned when the provider offers no route to compare against.
var ErrNoAlternative = errors.New("no alternative route available")

// DegradedProvider names the straight-line estimator in Analysis.Provider.
const DegradedProvider = "straight_line"

// PlannerConfig holds configuration for the route planner.
type PlannerConfig struct {
	// Provider is the routing data provider. A nil provider always degrades.
	Provider Provider

	// Logger for planner operations.
	Logger zerolog.Logger

	// Timeout bounds each provider call (default: 10 seconds).
	Timeout time.Duration

	// MaxWaypoints caps the sampled waypoints per route (default: 10).
	MaxWaypoints int

	// CacheTTL is how long to cache provider responses (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the cache cell size in degrees (default: 0.01, about 1.1km).
	// Requests whose endpoints share cells share cached routes.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale routes on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration
}

// Planner turns a start, destination and travel mode into an Analysis.
type Planner struct {
	provider        Provider
	logger          zerolog.Logger
	timeout         time.Duration
	maxWaypoints    int
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*cachedDirections
}

type cachedDirections struct {
	response  *DirectionsResponse
	fetchedAt time.Time
	expiresAt time.Time
}

// NewPlanner creates a new route planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	p := &Planner{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		timeout:         cfg.Timeout,
		maxWaypoints:    cfg.MaxWaypoints,
		cacheTTL:        cfg.CacheTTL,
		cacheGridSize:   cfg.CacheGridSize,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		cache:           make(map[string]*cachedDirections),
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	if p.maxWaypoints <= 0 {
		p.maxWaypoints = 10
	}
	if p.cacheTTL <= 0 {
		p.cacheTTL = 5 * time.Minute
	}
	if p.cacheGridSize <= 0 {
		p.cacheGridSize = 0.01
	}
	if p.staleIfErrorTTL <= 0 {
		p.staleIfErrorTTL = 15 * time.Minute
	}
	return p
}

// ProviderName returns the configured provider or the degraded estimator name.
func (p *Planner) ProviderName() string {
	if p.provider == nil {
		return DegradedProvider
	}
	return p.provider.Name()
}

// PlanRoute never fails: when the provider errors, times out or returns no
// route, the straight-line estimate is returned with Degraded set.
func (p *Planner) PlanRoute(ctx context.Context, start, dest Coordinate, rt RouteType) Analysis {
	if !rt.Valid() {
		rt = RouteTypeDriving
	}

	resp, err := p.directions(ctx, DirectionsRequest{
		Origin:       start,
		Destination:  dest,
		RouteType:    rt,
		Alternatives: 1,
	})
	if err == nil && len(resp.Routes) == 0 {
		err = ErrNoRouteFound
	}
	if err != nil {
		p.logger.Warn().Err(err).
			Str("start", start.String()).
			Str("destination", dest.String()).
			Str("route_type", string(rt)).
			Msg("route provider failed, using straight-line estimate")
		return StraightLine(start, dest, rt, err.Error())
	}

	return p.analysis(start, dest, rt, resp.Routes[0], resp.Provider)
}

// Alternative returns a second route for the same trip. When the provider
// offers only one route it is returned unchanged, matching what a rider
// would be offered. Degraded analyses have no alternative.
func (p *Planner) Alternative(ctx context.Context, a Analysis) (Analysis, error) {
	if p.provider == nil {
		return Analysis{}, ErrNoAlternative
	}

	resp, err := p.directions(ctx, DirectionsRequest{
		Origin:       a.Start,
		Destination:  a.Destination,
		RouteType:    a.RouteType,
		Alternatives: 1,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("fetching alternative: %w", err)
	}

	switch len(resp.Routes) {
	case 0:
		return Analysis{}, ErrNoAlternative
	case 1:
		return p.analysis(a.Start, a.Destination, a.RouteType, resp.Routes[0], resp.Provider), nil
	default:
		return p.analysis(a.Start, a.Destination, a.RouteType, resp.Routes[1], resp.Provider), nil
	}
}

func (p *Planner) analysis(start, dest Coordinate, rt RouteType, r Route, provider string) Analysis {
	coords := r.Geometry
	if len(coords) < 2 {
		coords = []Coordinate{start, dest}
	}
	return Analysis{
		Start:           start,
		Destination:     dest,
		RouteType:       rt,
		Coordinates:     coords,
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		Waypoints:       Waypoints(coords, p.maxWaypoints),
		Summary:         r.Summary,
		Provider:        provider,
	}
}

// StraightLine builds the deterministic degraded analysis for a trip.
func StraightLine(start, dest Coordinate, rt RouteType, reason string) Analysis {
	coords := []Coordinate{start, dest}
	distance := polyline.Distance(toPoint(start), toPoint(dest))
	return Analysis{
		Start:           start,
		Destination:     dest,
		RouteType:       rt,
		Coordinates:     coords,
		DistanceMeters:  distance,
		DurationSeconds: math.Round(distance / rt.nominalSpeed()),
		Waypoints:       Waypoints(coords, 2),
		Provider:        DegradedProvider,
		Degraded:        true,
		DegradedReason:  reason,
	}
}

// Waypoints samples at most max evenly spaced points, always keeping the last.
func Waypoints(coords []Coordinate, max int) []Waypoint {
	idx := polyline.Thin(len(coords), max)
	out := make([]Waypoint, 0, len(idx))
	for _, i := range idx {
		out = append(out, Waypoint{Index: i, Lat: coords[i].Lat, Lon: coords[i].Lon})
	}
	return out
}

// directions fetches from the provider through the grid cache with a per-call timeout.
func (p *Planner) directions(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if p.provider == nil {
		return nil, ErrProviderUnavailable
	}
	if err := req.Origin.Validate(); err != nil {
		return nil, err
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, err
	}

	key := p.cacheKey(req)

	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		p.logger.Debug().Str("cache_key", key).Msg("cache hit for directions")
		return cached.response, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.provider.GetDirections(callCtx, req)
	if err != nil {
		if ok && time.Now().Before(cached.fetchedAt.Add(p.staleIfErrorTTL)) {
			p.logger.Warn().
				Time("fetched_at", cached.fetchedAt).
				Str("cache_key", key).
				Msg("serving stale directions due to provider error")
			return cached.response, nil
		}
		return nil, err
	}

	now := time.Now()
	p.mu.Lock()
	p.cache[key] = &cachedDirections{response: resp, fetchedAt: now, expiresAt: now.Add(p.cacheTTL)}
	p.evictLocked(now)
	p.mu.Unlock()

	return resp, nil
}

// cacheKey quantizes both endpoints to the cache grid.
// Format: {routeType}:{originLat},{originLon}:{destLat},{destLon}.
func (p *Planner) cacheKey(req DirectionsRequest) string {
	q := func(v float64) float64 { return math.Floor(v/p.cacheGridSize) * p.cacheGridSize }
	return fmt.Sprintf("%s:%.2f,%.2f:%.2f,%.2f",
		req.RouteType,
		q(req.Origin.Lat), q(req.Origin.Lon),
		q(req.Destination.Lat), q(req.Destination.Lon),
	)
}

func (p *Planner) evictLocked(now time.Time) {
	for key, c := range p.cache {
		if now.After(c.fetchedAt.Add(p.staleIfErrorTTL)) {
			delete(p.cache, key)
		}
	}
}

// CacheSize returns the number of cached responses.
func (p *Planner) CacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func toPoint(c Coordinate) polyline.Point {
	return polyline.Point{Lat: c.Lat, Lon: c.Lon}
}

// FromPoints converts decoded polyline points to coordinates.
func FromPoints(pts []polyline.Point) []Coordinate {
	out := make([]Coordinate, len(pts))
	for i, pt := range pts {
		out[i] = Coordinate{Lat: pt.Lat, Lon: pt.Lon}
	}
	return out
}
