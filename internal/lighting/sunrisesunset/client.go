// Package sunrisesunset provides a client for the sunrise-sunset.org API.
package sunrisesunset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/lighting"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "sunrisesunset"

	// DefaultBaseURL is the sunrise-sunset.org endpoint.
	DefaultBaseURL = "https://api.sunrise-sunset.org/json"
)

// ClientConfig holds configuration for the sunrise-sunset client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *resilience.Client
	Registry   *resilience.Registry
	Logger     zerolog.Logger
}

// Client is a sunrise-sunset.org API client.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

var _ lighting.Provider = (*Client)(nil)

// NewClient creates a new sunrise-sunset client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetSunTimes fetches sunrise and sunset for a location and date.
func (c *Client) GetSunTimes(ctx context.Context, lat, lon float64, date time.Time) (*lighting.SunTimes, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("date", date.Format(time.DateOnly))
	q.Set("formatted", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lighting.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", lighting.ErrProviderUnavailable, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", lighting.ErrInvalidResponse, err)
	}
	if body.Status != "OK" {
		return nil, fmt.Errorf("%w: status %q", lighting.ErrInvalidResponse, body.Status)
	}

	sunrise, err := time.Parse(time.RFC3339, body.Results.Sunrise)
	if err != nil {
		return nil, fmt.Errorf("%w: sunrise: %v", lighting.ErrInvalidResponse, err)
	}
	sunset, err := time.Parse(time.RFC3339, body.Results.Sunset)
	if err != nil {
		return nil, fmt.Errorf("%w: sunset: %v", lighting.ErrInvalidResponse, err)
	}

	c.logger.Debug().
		Time("sunrise", sunrise).
		Time("sunset", sunset).
		Msg("fetched sun times")

	return &lighting.SunTimes{
		Sunrise:   sunrise.UTC(),
		Sunset:    sunset.UTC(),
		DayLength: time.Duration(body.Results.DayLength) * time.Second,
	}, nil
}

type response struct {
	Results struct {
		Sunrise   string `json:"sunrise"`
		Sunset    string `json:"sunset"`
		DayLength int64  `json:"day_length"`
	} `json:"results"`
	Status string `json:"status"`
}
