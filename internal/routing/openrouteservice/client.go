// Package openrouteservice provides a client for the OpenRouteService directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/pkg/polyline"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenRouteService API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ routing.Provider = (*Client)(nil)

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			clientCfg.Timeout = cfg.Timeout
		}
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetDirections requests the primary route plus req.Alternatives alternatives.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, &routing.Error{Provider: ProviderName, Code: "INVALID_ORIGIN", Message: "invalid origin coordinates", Err: routing.ErrInvalidCoordinates}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, &routing.Error{Provider: ProviderName, Code: "INVALID_DESTINATION", Message: "invalid destination coordinates", Err: routing.ErrInvalidCoordinates}
	}

	body := directionsRequest{
		// ORS uses [lon, lat] order (GeoJSON)
		Coordinates: [][]float64{
			{req.Origin.Lon, req.Origin.Lat},
			{req.Destination.Lon, req.Destination.Lat},
		},
		Instructions: true,
		Geometry:     true,
		Units:        "m",
	}
	if req.Alternatives > 0 {
		body.AlternativeRoutes = &alternativeRoutesOpts{
			TargetCount:  req.Alternatives + 1, // the primary route counts towards the target
			ShareFactor:  0.6,
			WeightFactor: 1.4,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	profile := req.RouteType.Profile()
	url := fmt.Sprintf("%s/v2/directions/%s", c.baseURL, profile)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("profile", profile).
		Str("origin", req.Origin.String()).
		Str("destination", req.Destination.String()).
		Msg("requesting directions from ORS")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach routing provider",
			Err:      fmt.Errorf("%w: %v", routing.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp.StatusCode, respBody)
	}

	var parsed directionsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := toDirections(&parsed)
	c.logger.Debug().Int("route_count", len(out.Routes)).Msg("received directions from ORS")
	return out, nil
}

// mapError maps ORS error responses to routing errors.
func mapError(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Error.Message

	switch {
	case status == http.StatusTooManyRequests:
		return &routing.Error{Provider: ProviderName, Code: "RATE_LIMIT", Message: "API rate limit exceeded", Err: routing.ErrRateLimitExceeded}
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return &routing.Error{Provider: ProviderName, Code: "FORBIDDEN", Message: "API access denied, check ORS_API_KEY", Err: routing.ErrProviderUnavailable}
	case status == http.StatusNotFound, parsed.Error.Code == errorCodeRouteNotFound:
		if msg == "" {
			msg = "no route found between the given points"
		}
		return &routing.Error{Provider: ProviderName, Code: "NO_ROUTE", Message: msg, Err: routing.ErrNoRouteFound}
	case status == http.StatusBadRequest:
		return &routing.Error{Provider: ProviderName, Code: "BAD_REQUEST", Message: msg, Err: routing.ErrInvalidCoordinates}
	case status >= http.StatusInternalServerError:
		return &routing.Error{Provider: ProviderName, Code: fmt.Sprintf("SERVER_%d", status), Message: "routing provider is temporarily unavailable", Err: routing.ErrProviderUnavailable}
	default:
		return &routing.Error{Provider: ProviderName, Code: fmt.Sprintf("HTTP_%d", status), Message: fmt.Sprintf("routing provider returned status %d", status), Err: routing.ErrProviderUnavailable}
	}
}

func toDirections(resp *directionsResponse) *routing.DirectionsResponse {
	routes := make([]routing.Route, 0, len(resp.Routes))
	for i := range resp.Routes {
		r := &resp.Routes[i]
		routes = append(routes, routing.Route{
			Geometry:        routing.FromPoints(polyline.Decode(r.Geometry)),
			DistanceMeters:  r.Summary.Distance,
			DurationSeconds: r.Summary.Duration,
			Summary:         summarize(r),
		})
	}
	return &routing.DirectionsResponse{
		Routes:    routes,
		Provider:  ProviderName,
		FetchedAt: time.Now(),
	}
}

// summarize names the longest named step of a route, e.g. "US-101 S".
func summarize(r *route) string {
	var best routeStep
	for _, seg := range r.Segments {
		for _, step := range seg.Steps {
			if step.Name != "" && step.Name != "-" && step.Distance > best.Distance {
				best = step
			}
		}
	}
	return best.Name
}
