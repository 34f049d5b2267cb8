package crime_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

type mockProvider struct {
	n     int
	err   error
	calls atomic.Int32
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) GetIncidents(context.Context, float64, float64) ([]crime.Incident, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]crime.Incident, m.n)
	for i := range out {
		out[i] = crime.Incident{Category: "anti-social-behaviour"}
		if i%3 == 0 {
			out[i].Category = "burglary"
		}
	}
	return out, nil
}

func TestScore(t *testing.T) {
	tests := []struct {
		incidents int
		level     crime.Level
		score     float64
	}{
		{0, crime.LevelLow, 0.5},
		{24, crime.LevelLow, 0.5},
		{25, crime.LevelModerate, 1.5},
		{99, crime.LevelModerate, 1.5},
		{100, crime.LevelHigh, 2.5},
		{250, crime.LevelVeryHigh, 3.0},
		{5000, crime.LevelVeryHigh, 3.0},
	}
	for _, tt := range tests {
		level, score := crime.Score(tt.incidents)
		assert.Equal(t, tt.level, level, "incidents=%d", tt.incidents)
		assert.Equal(t, tt.score, score, "incidents=%d", tt.incidents)
	}
}

func TestTopCategories(t *testing.T) {
	incidents := []crime.Incident{
		{Category: "vehicle-crime"},
		{Category: "burglary"},
		{Category: "burglary"},
		{Category: "anti-social-behaviour"},
		{Category: "anti-social-behaviour"},
		{Category: "shoplifting"},
	}
	assert.Equal(t, []string{"anti-social-behaviour", "burglary", "shoplifting"}, crime.TopCategories(incidents, 3))
	assert.Empty(t, crime.TopCategories(nil, 3))
}

func TestSource_Fetch(t *testing.T) {
	provider := &mockProvider{n: 120}
	src := crime.NewSource(crime.SourceConfig{Provider: provider, Logger: zerolog.Nop()})

	r, err := src.Fetch(context.Background(), routing.Coordinate{Lat: 51.5074, Lon: -0.1278}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, safety.CategoryCrime, r.Category)
	assert.Equal(t, 2.5, r.Score)
	assert.Equal(t, "high", r.Summary)
	assert.Equal(t, 120, r.Detail["incidents"])
	assert.Equal(t, []string{"anti-social-behaviour", "burglary"}, r.Detail["top_categories"])

	_, _ = src.Fetch(context.Background(), routing.Coordinate{Lat: 51.5071, Lon: -0.1272}, time.Now())
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestSource_EvictsExpiredCells(t *testing.T) {
	provider := &mockProvider{n: 3}
	src := crime.NewSource(crime.SourceConfig{Provider: provider, Logger: zerolog.Nop(), CacheTTL: 10 * time.Millisecond})

	_, _ = src.Fetch(context.Background(), routing.Coordinate{Lat: 51.5074, Lon: -0.1278}, time.Now())
	assert.Equal(t, 1, src.CacheSize())

	time.Sleep(20 * time.Millisecond)
	_, _ = src.Fetch(context.Background(), routing.Coordinate{Lat: 53.4808, Lon: -2.2426}, time.Now())
	assert.Equal(t, 1, src.CacheSize())

	_, _ = src.Fetch(context.Background(), routing.Coordinate{Lat: 51.5074, Lon: -0.1278}, time.Now())
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestSource_ProviderError(t *testing.T) {
	src := crime.NewSource(crime.SourceConfig{
		Provider: &mockProvider{err: crime.ErrProviderUnavailable},
		Logger:   zerolog.Nop(),
	})
	_, err := src.Fetch(context.Background(), routing.Coordinate{}, time.Now())
	assert.True(t, errors.Is(err, crime.ErrProviderUnavailable))
}

func TestNewFetcher(t *testing.T) {
	f, err := crime.NewFetcher("fallback", nil, 0.5, zerolog.Nop())
	require.NoError(t, err)
	r, err := f.Fetch(context.Background(), routing.Coordinate{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.Score)
	assert.Equal(t, "unassessed", r.Summary)

	f, err = crime.NewFetcher("police_uk", &mockProvider{}, 0.5, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &crime.Source{}, f)

	_, err = crime.NewFetcher("fbi", nil, 0.5, zerolog.Nop())
	assert.ErrorIs(t, err, crime.ErrUnknownDataSource)
}
