package openrouteservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/pkg/polyline"
)

var (
	origin = routing.Coordinate{Lat: 37.7749, Lon: -122.4194}
	dest   = routing.Coordinate{Lat: 37.6213, Lon: -122.3790}
)

func fixture(t *testing.T) []byte {
	t.Helper()
	primary := polyline.Encode([]polyline.Point{{Lat: 37.7749, Lon: -122.4194}, {Lat: 37.70, Lon: -122.40}, {Lat: 37.6213, Lon: -122.3790}})
	alt := polyline.Encode([]polyline.Point{{Lat: 37.7749, Lon: -122.4194}, {Lat: 37.72, Lon: -122.45}, {Lat: 37.6213, Lon: -122.3790}})

	body := map[string]any{
		"routes": []map[string]any{
			{
				"summary":  map[string]any{"distance": 21034.5, "duration": 1490.2},
				"geometry": primary,
				"segments": []map[string]any{{"steps": []map[string]any{
					{"distance": 300.0, "name": "Market Street"},
					{"distance": 15000.0, "name": "US-101 S"},
					{"distance": 900.0, "name": "-"},
				}}},
			},
			{
				"summary":  map[string]any{"distance": 24511.0, "duration": 1805.0},
				"geometry": alt,
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to build fixture: %v", err)
	}
	return b
}

func newTestClient(url string, doer HTTPDoer) *Client {
	return NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    url,
		HTTPClient: doer,
		Logger:     zerolog.Nop(),
	})
}

func TestClient_GetDirections_Success(t *testing.T) {
	respBody := fixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "mock123" {
			t.Errorf("expected Authorization header 'mock123', got '%s'", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v2/directions/driving-car" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req directionsRequest
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if req.Coordinates[0][0] != origin.Lon || req.Coordinates[0][1] != origin.Lat {
			t.Errorf("expected [lon, lat] order, got %v", req.Coordinates[0])
		}
		if req.AlternativeRoutes == nil || req.AlternativeRoutes.TargetCount != 2 {
			t.Errorf("expected target_count 2, got %+v", req.AlternativeRoutes)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(respBody)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())

	resp, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:       origin,
		Destination:  dest,
		RouteType:    routing.RouteTypeDriving,
		Alternatives: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Provider != ProviderName {
		t.Errorf("expected provider %s, got %s", ProviderName, resp.Provider)
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(resp.Routes))
	}

	r := resp.Routes[0]
	if r.DistanceMeters != 21034.5 {
		t.Errorf("expected distance 21034.5, got %f", r.DistanceMeters)
	}
	if len(r.Geometry) != 3 {
		t.Fatalf("expected 3 decoded points, got %d", len(r.Geometry))
	}
	if r.Geometry[2] != dest {
		t.Errorf("expected last point %v, got %v", dest, r.Geometry[2])
	}
	if r.Summary != "US-101 S" {
		t.Errorf("expected summary 'US-101 S', got %q", r.Summary)
	}
}

func TestClient_GetDirections_NoAlternativesOmitsOption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &raw)
		if _, ok := raw["alternative_routes"]; ok {
			t.Error("alternative_routes should be omitted")
		}
		if r.URL.Path != "/v2/directions/foot-walking" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"routes":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	resp, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin: origin, Destination: dest, RouteType: routing.RouteTypeWalking,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Routes) != 0 {
		t.Errorf("expected no routes, got %d", len(resp.Routes))
	}
}

func TestClient_GetDirections_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		code    string
	}{
		{"route not found code", http.StatusBadRequest, `{"error":{"code":2009,"message":"Route could not be found"}}`, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":2003,"message":"Parameter invalid"}}`, routing.ErrInvalidCoordinates, "BAD_REQUEST"},
		{"not found", http.StatusNotFound, ``, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":403,"message":"Rate limit exceeded"}}`, routing.ErrRateLimitExceeded, "RATE_LIMIT"},
		{"forbidden", http.StatusForbidden, `{}`, routing.ErrProviderUnavailable, "FORBIDDEN"},
		{"server error", http.StatusServiceUnavailable, `oops`, routing.ErrProviderUnavailable, "SERVER_503"},
		{"teapot", http.StatusTeapot, ``, routing.ErrProviderUnavailable, "HTTP_418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL, server.Client())
			_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
				Origin: origin, Destination: dest, RouteType: routing.RouteTypeCycling,
			})

			var routingErr *routing.Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected routing.Error, got %T (%v)", err, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if routingErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, routingErr.Code)
			}
		})
	}
}

func TestClient_GetDirections_InvalidCoordinates(t *testing.T) {
	client := newTestClient("http://unused.invalid", &failingDoer{})

	tests := []struct {
		name        string
		origin      routing.Coordinate
		destination routing.Coordinate
		code        string
	}{
		{"origin latitude", routing.Coordinate{Lat: 91}, dest, "INVALID_ORIGIN"},
		{"destination longitude", origin, routing.Coordinate{Lon: -181}, "INVALID_DESTINATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
				Origin: tt.origin, Destination: tt.destination,
			})
			var routingErr *routing.Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected routing.Error, got %T", err)
			}
			if routingErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, routingErr.Code)
			}
		})
	}
}

// failingDoer simulates a network failure.
type failingDoer struct{}

func (f *failingDoer) Do(_ *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestClient_GetDirections_NetworkError(t *testing.T) {
	client := newTestClient("http://unused.invalid", &failingDoer{})

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin: origin, Destination: dest, RouteType: routing.RouteTypeDriving,
	})

	var routingErr *routing.Error
	if !errors.As(err, &routingErr) {
		t.Fatalf("expected routing.Error, got %T", err)
	}
	if !routingErr.IsRetryable() {
		t.Error("network errors should be retryable")
	}
}

func TestClient_Name(t *testing.T) {
	if got := newTestClient("", &failingDoer{}).Name(); got != ProviderName {
		t.Errorf("expected %s, got %s", ProviderName, got)
	}
}
