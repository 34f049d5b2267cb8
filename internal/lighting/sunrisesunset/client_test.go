package sunrisesunset_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/lighting"
	"github.com/saferoute/saferoute/internal/lighting/sunrisesunset"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

func testClient(url string) *sunrisesunset.Client {
	cfg := resilience.DefaultClientConfig("test")
	cfg.MaxRetries = 0
	return sunrisesunset.NewClient(sunrisesunset.ClientConfig{
		BaseURL:    url,
		HTTPClient: resilience.NewClient(cfg),
	})
}

func TestClient_GetSunTimes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "51.507400", r.URL.Query().Get("lat"))
		assert.Equal(t, "-0.127800", r.URL.Query().Get("lng"))
		assert.Equal(t, "2026-10-16", r.URL.Query().Get("date"))
		assert.Equal(t, "0", r.URL.Query().Get("formatted"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": {
				"sunrise": "2026-10-16T06:25:12+00:00",
				"sunset": "2026-10-16T17:10:40+00:00",
				"day_length": 38728
			},
			"status": "OK"
		}`))
	}))
	defer server.Close()

	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	sun, err := testClient(server.URL).GetSunTimes(context.Background(), 51.5074, -0.1278, day)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 16, 6, 25, 12, 0, time.UTC), sun.Sunrise)
	assert.Equal(t, time.Date(2026, 10, 16, 17, 10, 40, 0, time.UTC), sun.Sunset)
	assert.Equal(t, 38728*time.Second, sun.DayLength)
}

func TestClient_GetSunTimes_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, "", lighting.ErrProviderUnavailable},
		{"bad status field", http.StatusOK, `{"status":"INVALID_REQUEST"}`, lighting.ErrInvalidResponse},
		{"malformed body", http.StatusOK, `{`, lighting.ErrInvalidResponse},
		{"bad timestamp", http.StatusOK, `{"status":"OK","results":{"sunrise":"6:25 AM","sunset":"5:10 PM"}}`, lighting.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := testClient(server.URL).GetSunTimes(context.Background(), 0, 0, time.Now())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
