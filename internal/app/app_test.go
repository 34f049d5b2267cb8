package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/app"
	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/pipeline"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

func testConfig(t *testing.T, sunURL string) *config.Config {
	t.Helper()
	t.Setenv("SUNRISE_SUNSET_BASE_URL", sunURL)
	t.Setenv("PROVIDER_MAX_RETRIES", "0")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_WithoutCredentials(t *testing.T) {
	sun := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer sun.Close()

	a, err := app.Build(context.Background(), testConfig(t, sun.URL), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, a.Registry.Len(), "only the keyless daylight provider is registered")
	require.Len(t, a.Fetchers, 1)
	assert.Equal(t, safety.CategoryLighting, a.Fetchers[0].Category())

	res, err := a.Service.AnalyzeRoute(context.Background(), pipeline.RouteRequest{
		Start:       routing.Coordinate{Lat: 51.5074, Lon: -0.1278},
		Destination: routing.Coordinate{Lat: 51.5155, Lon: -0.0922},
		RouteType:   routing.RouteTypeWalking,
		SessionID:   "build-test",
	})
	require.NoError(t, err)
	assert.True(t, res.Route.Degraded)
	assert.True(t, res.Persisted)
	assert.True(t, res.Safety.Weather.IsFallback())
	assert.Equal(t, 4.0, a.Service.Threshold())
}

func TestBuild_PoliceUKRegistersCrimeSource(t *testing.T) {
	t.Setenv("CRIME_DATA_SOURCE", crime.DataSourcePoliceUK)
	a, err := app.Build(context.Background(), testConfig(t, "http://127.0.0.1:1"), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 2, a.Registry.Len())
	assert.Len(t, a.Fetchers, 2)
}

func TestBuild_SQLiteStore(t *testing.T) {
	t.Setenv("SESSION_STORE", config.StoreSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "sessions.db"))

	a, err := app.Build(context.Background(), testConfig(t, "http://127.0.0.1:1"), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	sess, err := a.Service.GetSession(context.Background(), "sqlite-build")
	require.NoError(t, err)
	assert.Equal(t, "sqlite-build", sess.Key)
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := app.Logger("saferoute-api", "test", config.AppConfig{LogLevel: "warn", Env: "test"}, &buf)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"service":"saferoute-api"`)
	assert.Contains(t, buf.String(), `"env":"test"`)

	buf.Reset()
	defaultLog := app.Logger("x", "y", config.AppConfig{LogLevel: "nonsense"}, &buf)
	defaultLog.Info().Msg("default info")
	assert.Contains(t, buf.String(), "default info")
}
