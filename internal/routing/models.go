// Package routing plans routes between two coordinates and degrades to a
// straight-line estimate when no routing provider can answer.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidRouteType indicates an unknown travel mode.
	ErrInvalidRouteType = errors.New("invalid route type")
)

// Provider computes directions between two points.
type Provider interface {
	// GetDirections returns the primary route followed by any alternatives.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// Validate checks that c lies within WGS84 bounds.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range [-90, 90]", ErrInvalidCoordinates, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of range [-180, 180]", ErrInvalidCoordinates, c.Lon)
	}
	return nil
}

// RouteType is the travel mode of a request.
type RouteType string

const (
	RouteTypeDriving RouteType = "driving"
	RouteTypeWalking RouteType = "walking"
	RouteTypeCycling RouteType = "cycling"
)

// ParseRouteType accepts a travel mode or its OpenRouteService profile name.
func ParseRouteType(s string) (RouteType, error) {
	switch s {
	case "driving", "driving-car":
		return RouteTypeDriving, nil
	case "walking", "foot-walking":
		return RouteTypeWalking, nil
	case "cycling", "cycling-regular":
		return RouteTypeCycling, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRouteType, s)
}

// Valid reports whether t is a known travel mode.
func (t RouteType) Valid() bool {
	switch t {
	case RouteTypeDriving, RouteTypeWalking, RouteTypeCycling:
		return true
	}
	return false
}

// Profile returns the OpenRouteService profile for t.
func (t RouteType) Profile() string {
	switch t {
	case RouteTypeWalking:
		return "foot-walking"
	case RouteTypeCycling:
		return "cycling-regular"
	default:
		return "driving-car"
	}
}

// nominalSpeed is the average speed in m/s used to estimate degraded durations.
func (t RouteType) nominalSpeed() float64 {
	switch t {
	case RouteTypeWalking:
		return 5.0 / 3.6
	case RouteTypeCycling:
		return 15.0 / 3.6
	default:
		return 50.0 / 3.6
	}
}

// DirectionsRequest is the request for computing routes.
type DirectionsRequest struct {
	Origin      Coordinate
	Destination Coordinate
	RouteType   RouteType
	// Alternatives is the number of extra routes wanted besides the primary one.
	Alternatives int
}

// DirectionsResponse holds the primary route first, then alternatives.
type DirectionsResponse struct {
	Routes    []Route
	Provider  string
	FetchedAt time.Time
}

// Route is one route option returned by a provider.
type Route struct {
	Geometry        []Coordinate
	DistanceMeters  float64
	DurationSeconds float64
	Summary         string
}

// Waypoint is a sampled point of a route, referencing its index in the geometry.
type Waypoint struct {
	Index int     `json:"index"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Analysis is the immutable output of route planning.
type Analysis struct {
	Start           Coordinate   `json:"start"`
	Destination     Coordinate   `json:"destination"`
	RouteType       RouteType    `json:"route_type"`
	Coordinates     []Coordinate `json:"coordinates"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
	Waypoints       []Waypoint   `json:"waypoints"`
	Summary         string       `json:"summary,omitempty"`
	Provider        string       `json:"provider"`

	// Degraded is set when the analysis is a straight-line estimate.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// DistanceKm returns the route distance in kilometers.
func (a Analysis) DistanceKm() float64 {
	return a.DistanceMeters / 1000
}

// DurationMinutes returns the route duration in minutes.
func (a Analysis) DurationMinutes() float64 {
	return a.DurationSeconds / 60
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
