package policeuk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/crime/policeuk"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

func testClient(url string) *policeuk.Client {
	cfg := resilience.DefaultClientConfig("test")
	cfg.MaxRetries = 0
	return policeuk.NewClient(policeuk.ClientConfig{BaseURL: url, HTTPClient: resilience.NewClient(cfg)})
}

func TestClient_GetIncidents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crimes-street/all-crime", r.URL.Path)
		assert.Equal(t, "52.629729", r.URL.Query().Get("lat"))
		assert.Equal(t, "-1.131592", r.URL.Query().Get("lng"))

		_, _ = w.Write([]byte(`[
			{"category":"anti-social-behaviour","month":"2026-08","location":{"street":{"id":1,"name":"On or near Granby Street"}}},
			{"category":"burglary","month":"2026-08","location":{"street":{"id":2,"name":"On or near Belvoir Street"}}}
		]`))
	}))
	defer server.Close()

	incidents, err := testClient(server.URL).GetIncidents(context.Background(), 52.629729, -1.131592)
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "burglary", incidents[1].Category)
	assert.Equal(t, "On or near Granby Street", incidents[0].Street)
	assert.Equal(t, "2026-08", incidents[0].Month)
}

func TestClient_GetIncidents_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	incidents, err := testClient(server.URL).GetIncidents(context.Background(), 40.7128, -74.0060)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestClient_GetIncidents_Errors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := testClient(server.URL).GetIncidents(context.Background(), 0, 0)
		assert.ErrorIs(t, err, crime.ErrProviderUnavailable, "status %d", status)
		server.Close()
	}
}
