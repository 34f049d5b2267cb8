// Package session keeps per-session route history, preferences and running
// statistics. Sessions are created lazily on first reference.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/pkg/optional"
)

// Session errors.
var (
	ErrInvalidKey         = errors.New("invalid session key")
	ErrInvalidPreferences = errors.New("invalid preferences")
)

const maxKeyLength = 128

// ValidateKey checks that a session key is usable.
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Store persists sessions. Every method creates the session on first use.
// AppendRecord calls on the same key are serialized so statistics never
// lose an update.
type Store interface {
	GetOrCreate(ctx context.Context, key string) (*Session, error)
	AppendRecord(ctx context.Context, key string, rec Record) (Statistics, error)
	UpdatePreferences(ctx context.Context, key string, upd PreferencesUpdate) (Preferences, error)
	// GetHistory returns the most recent limit records in chronological
	// order. A limit of zero or less returns all of them.
	GetHistory(ctx context.Context, key string, limit int) ([]Record, error)
	GetStatistics(ctx context.Context, key string) (Statistics, error)
}

// RiskTolerance is how much risk a user accepts.
type RiskTolerance string

const (
	ToleranceLow    RiskTolerance = "low"
	ToleranceMedium RiskTolerance = "medium"
	ToleranceHigh   RiskTolerance = "high"
)

// Valid reports whether t is a known tolerance.
func (t RiskTolerance) Valid() bool {
	switch t {
	case ToleranceLow, ToleranceMedium, ToleranceHigh:
		return true
	}
	return false
}

// Preferences are user settings. Updates are last-write-wins.
type Preferences struct {
	RiskTolerance      RiskTolerance     `json:"risk_tolerance"`
	AlertThreshold     float64           `json:"alert_threshold"`
	PreferredRouteType routing.RouteType `json:"preferred_route_type"`
}

// DefaultPreferences returns the preferences of a new session.
func DefaultPreferences() Preferences {
	return Preferences{
		RiskTolerance:      ToleranceMedium,
		AlertThreshold:     4.0,
		PreferredRouteType: routing.RouteTypeDriving,
	}
}

// PreferencesUpdate is a partial update; nil fields are left unchanged.
type PreferencesUpdate struct {
	RiskTolerance      *RiskTolerance     `json:"risk_tolerance,omitempty"`
	AlertThreshold     *float64           `json:"alert_threshold,omitempty"`
	PreferredRouteType *routing.RouteType `json:"preferred_route_type,omitempty"`
}

// Apply returns p with the update applied, or an error if any field is invalid.
func (u PreferencesUpdate) Apply(p Preferences) (Preferences, error) {
	if u.RiskTolerance != nil {
		if !u.RiskTolerance.Valid() {
			return p, fmt.Errorf("%w: risk_tolerance %q", ErrInvalidPreferences, *u.RiskTolerance)
		}
		p.RiskTolerance = *u.RiskTolerance
	}
	if u.AlertThreshold != nil {
		if *u.AlertThreshold < 0 || *u.AlertThreshold > risk.MaxScore {
			return p, fmt.Errorf("%w: alert_threshold %v out of range [0, 10]", ErrInvalidPreferences, *u.AlertThreshold)
		}
		p.AlertThreshold = *u.AlertThreshold
	}
	if u.PreferredRouteType != nil {
		if !u.PreferredRouteType.Valid() {
			return p, fmt.Errorf("%w: preferred_route_type %q", ErrInvalidPreferences, *u.PreferredRouteType)
		}
		p.PreferredRouteType = *u.PreferredRouteType
	}
	return p, nil
}

// Record is one analyzed route in a session's history. It is never
// modified after append.
type Record struct {
	ID              string                             `json:"id"`
	Start           routing.Coordinate                 `json:"start"`
	Destination     routing.Coordinate                 `json:"destination"`
	RouteType       routing.RouteType                  `json:"route_type"`
	DistanceKm      float64                            `json:"distance_km"`
	DurationMinutes float64                            `json:"duration_minutes"`
	Degraded        bool                               `json:"degraded"`
	Assessment      risk.Assessment                    `json:"assessment"`
	Alert           alert.Alert                        `json:"alert"`
	Optimization    optional.Optional[optimize.Result] `json:"optimization"`
	CreatedAt       time.Time                          `json:"created_at"`
}

// withDefaults fills a missing id and timestamp.
func (r Record) withDefaults(now time.Time) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r
}

// clone returns a copy that shares no maps or slices with r.
func (r Record) clone() Record {
	r.Assessment.Breakdown = maps.Clone(r.Assessment.Breakdown)
	r.Assessment.PrimaryRisks = slices.Clone(r.Assessment.PrimaryRisks)
	r.Alert.Actions = slices.Clone(r.Alert.Actions)
	if opt, ok := r.Optimization.Get(); ok {
		opt.Alternative.Coordinates = slices.Clone(opt.Alternative.Coordinates)
		opt.Alternative.Waypoints = slices.Clone(opt.Alternative.Waypoints)
		r.Optimization = optional.Some(opt)
	}
	return r
}

// Statistics aggregate a session's history.
type Statistics struct {
	TotalRoutes    int     `json:"total_routes"`
	AverageRisk    float64 `json:"average_risk"`
	HighRiskRoutes int     `json:"high_risk_routes"`
}

// Add folds one record into the statistics. The average is updated
// incrementally; a route counts as high risk iff it is Hazardous.
func (s Statistics) Add(r Record) Statistics {
	s.TotalRoutes++
	s.AverageRisk += (r.Assessment.Score - s.AverageRisk) / float64(s.TotalRoutes)
	if r.Assessment.Category == risk.CategoryHazardous {
		s.HighRiskRoutes++
	}
	return s
}

// Session is a snapshot of one session.
type Session struct {
	Key         string      `json:"session_id"`
	Preferences Preferences `json:"preferences"`
	History     []Record    `json:"history"`
	Statistics  Statistics  `json:"statistics"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// tail returns the last limit records, or all when limit <= 0.
func tail(records []Record, limit int) []Record {
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}
	return out
}
