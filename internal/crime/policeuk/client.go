// Package policeuk provides a client for the data.police.uk street-level crime API.
package policeuk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "police_uk"

	// DefaultBaseURL is the police.uk API base URL.
	DefaultBaseURL = "https://data.police.uk/api"
)

// ClientConfig holds configuration for the police.uk client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *resilience.Client
	Registry   *resilience.Registry
	Logger     zerolog.Logger
}

// Client queries street-level crimes within one mile of a point.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

var _ crime.Provider = (*Client)(nil)

// NewClient creates a new police.uk client.
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

// GetIncidents returns all street crimes of the latest published month.
// Points outside England, Wales and Northern Ireland return no incidents.
func (c *Client) GetIncidents(ctx context.Context, lat, lon float64) ([]crime.Incident, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/crimes-street/all-crime?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crime.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", crime.ErrProviderUnavailable, resp.StatusCode)
	}

	var body []streetCrime
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	incidents := make([]crime.Incident, len(body))
	for i, sc := range body {
		incidents[i] = crime.Incident{
			Category: sc.Category,
			Month:    sc.Month,
			Street:   sc.Location.Street.Name,
		}
	}
	return incidents, nil
}

type streetCrime struct {
	Category string `json:"category"`
	Month    string `json:"month"`
	Location struct {
		Street struct {
			Name string `json:"name"`
		} `json:"street"`
	} `json:"location"`
}
