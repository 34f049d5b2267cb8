package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/pkg/optional"
)

func stores(t *testing.T) map[string]session.Store {
	t.Helper()
	sqlite, err := session.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]session.Store{
		"memory": session.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func record(score float64) session.Record {
	return session.Record{
		Start:       routing.Coordinate{Lat: 37.7749, Lon: -122.4194},
		Destination: routing.Coordinate{Lat: 37.6213, Lon: -122.3790},
		RouteType:   routing.RouteTypeDriving,
		DistanceKm:  17.4,
		Assessment: risk.Assessment{
			Score:    score,
			Category: risk.Categorize(score),
			Level:    risk.Categorize(score).Level(),
		},
	}
}

func TestStore_LazyCreation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := store.GetOrCreate(ctx, "fresh")
			require.NoError(t, err)
			assert.Equal(t, "fresh", s.Key)
			assert.Equal(t, session.DefaultPreferences(), s.Preferences)
			assert.Equal(t, session.Statistics{}, s.Statistics)
			assert.Empty(t, s.History)

			stats, err := store.GetStatistics(ctx, "never-seen")
			require.NoError(t, err)
			assert.Zero(t, stats.TotalRoutes)
		})
	}
}

func TestStore_AppendRecord(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, score := range []float64{2, 7, 6} {
				_, err := store.AppendRecord(ctx, "s1", record(score))
				require.NoError(t, err)
			}

			stats, err := store.GetStatistics(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 3, stats.TotalRoutes)
			assert.InDelta(t, 5.0, stats.AverageRisk, 1e-9)
			assert.Equal(t, 1, stats.HighRiskRoutes, "only the Hazardous 7 counts; 6 is Moderate")

			history, err := store.GetHistory(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, 2.0, history[0].Assessment.Score)
			assert.Equal(t, 6.0, history[2].Assessment.Score)
			assert.NotEmpty(t, history[0].ID)
			assert.False(t, history[0].CreatedAt.IsZero())

			recent, err := store.GetHistory(ctx, "s1", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, 7.0, recent[0].Assessment.Score)
			assert.Equal(t, 6.0, recent[1].Assessment.Score)
		})
	}
}

func TestStore_RecordsRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := record(4.25)
			in.ID = "rec-1"
			in.CreatedAt = time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC)
			in.Assessment.Breakdown = map[safety.Category]float64{safety.CategoryCrime: 2.25, safety.CategoryTime: 2}
			in.Assessment.PrimaryRisks = []risk.PrimaryRisk{{Category: safety.CategoryCrime, Score: 2.25}}
			in.Alert = alert.Alert{Severity: alert.SeverityMedium, Headline: "MODERATE RISK", Actions: []string{"Stay in well-lit areas"}}
			in.Optimization = optional.Some(optimize.Result{
				OriginalRisk:    4.25,
				AlternativeRisk: 2.75,
				Recommended:     true,
				Comparison:      optimize.Comparison{DistanceDeltaKm: 1.2, RiskImprovement: 1.5},
			})

			_, err := store.AppendRecord(ctx, "rt", in)
			require.NoError(t, err)

			history, err := store.GetHistory(ctx, "rt", 0)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, in, history[0])
		})
	}
}

func TestStore_HistoryIsNotAliased(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := record(4.25)
			in.Assessment.Breakdown = map[safety.Category]float64{safety.CategoryCrime: 2.25}
			in.Assessment.PrimaryRisks = []risk.PrimaryRisk{{Category: safety.CategoryCrime, Score: 2.25}}
			in.Alert = alert.Alert{Actions: []string{"Stay in well-lit areas"}}
			in.Optimization = optional.Some(optimize.Result{
				Alternative: routing.Analysis{Coordinates: []routing.Coordinate{{Lat: 1, Lon: 2}}},
			})

			_, err := store.AppendRecord(ctx, "alias", in)
			require.NoError(t, err)

			in.Assessment.Breakdown[safety.CategoryCrime] = 9
			in.Assessment.PrimaryRisks[0].Score = 9
			in.Alert.Actions[0] = "changed by caller"
			opt, _ := in.Optimization.Get()
			opt.Alternative.Coordinates[0].Lat = 9

			first, err := store.GetHistory(ctx, "alias", 0)
			require.NoError(t, err)
			require.Len(t, first, 1)
			first[0].Assessment.Breakdown[safety.CategoryCrime] = 8
			first[0].Alert.Actions[0] = "changed by reader"

			again, err := store.GetHistory(ctx, "alias", 0)
			require.NoError(t, err)
			require.Len(t, again, 1)
			got := again[0]
			assert.Equal(t, 2.25, got.Assessment.Breakdown[safety.CategoryCrime])
			assert.Equal(t, 2.25, got.Assessment.PrimaryRisks[0].Score)
			assert.Equal(t, []string{"Stay in well-lit areas"}, got.Alert.Actions)
			alt, ok := got.Optimization.Get()
			require.True(t, ok)
			assert.Equal(t, 1.0, alt.Alternative.Coordinates[0].Lat)

			s, err := store.GetOrCreate(ctx, "alias")
			require.NoError(t, err)
			s.History[0].Assessment.Breakdown[safety.CategoryCrime] = 7
			again, err = store.GetHistory(ctx, "alias", 1)
			require.NoError(t, err)
			assert.Equal(t, 2.25, again[0].Assessment.Breakdown[safety.CategoryCrime])
		})
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 40

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					score := float64(i % 10)
					_, err := store.AppendRecord(ctx, "busy", record(score))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			stats, err := store.GetStatistics(ctx, "busy")
			require.NoError(t, err)
			assert.Equal(t, n, stats.TotalRoutes)
			assert.InDelta(t, 4.5, stats.AverageRisk, 1e-9)
			// Scores 7, 8 and 9 are Hazardous, four times each.
			assert.Equal(t, 12, stats.HighRiskRoutes)

			history, err := store.GetHistory(ctx, "busy", 0)
			require.NoError(t, err)
			assert.Len(t, history, n)
		})
	}
}

func TestStore_UpdatePreferences(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tolerance := session.ToleranceLow
			threshold := 6.5
			prefs, err := store.UpdatePreferences(ctx, "p", session.PreferencesUpdate{
				RiskTolerance:  &tolerance,
				AlertThreshold: &threshold,
			})
			require.NoError(t, err)
			assert.Equal(t, session.ToleranceLow, prefs.RiskTolerance)
			assert.Equal(t, 6.5, prefs.AlertThreshold)
			assert.Equal(t, routing.RouteTypeDriving, prefs.PreferredRouteType)

			walking := routing.RouteTypeWalking
			prefs, err = store.UpdatePreferences(ctx, "p", session.PreferencesUpdate{PreferredRouteType: &walking})
			require.NoError(t, err)
			assert.Equal(t, session.ToleranceLow, prefs.RiskTolerance, "last write wins per field")
			assert.Equal(t, routing.RouteTypeWalking, prefs.PreferredRouteType)

			bad := session.RiskTolerance("reckless")
			_, err = store.UpdatePreferences(ctx, "p", session.PreferencesUpdate{RiskTolerance: &bad})
			assert.ErrorIs(t, err, session.ErrInvalidPreferences)

			s, err := store.GetOrCreate(ctx, "p")
			require.NoError(t, err)
			assert.Equal(t, prefs, s.Preferences)
		})
	}
}

func TestStore_InvalidKey(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetOrCreate(context.Background(), "")
			assert.ErrorIs(t, err, session.ErrInvalidKey)

			_, err = store.AppendRecord(context.Background(), fmt.Sprintf("%0200d", 1), record(1))
			assert.ErrorIs(t, err, session.ErrInvalidKey)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := session.OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = store.AppendRecord(ctx, "durable", record(8))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = session.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.GetStatistics(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, session.Statistics{TotalRoutes: 1, AverageRisk: 8, HighRiskRoutes: 1}, stats)
}

func TestStatistics_Add(t *testing.T) {
	var s session.Statistics
	for _, score := range []float64{1, 2, 3, 4} {
		s = s.Add(record(score))
	}
	assert.Equal(t, 4, s.TotalRoutes)
	assert.InDelta(t, 2.5, s.AverageRisk, 1e-12)
	assert.Zero(t, s.HighRiskRoutes)
}

func TestPreferencesUpdate_JSON(t *testing.T) {
	var upd session.PreferencesUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"alert_threshold": 3}`), &upd))
	require.NotNil(t, upd.AlertThreshold)
	assert.Nil(t, upd.RiskTolerance)

	p, err := upd.Apply(session.DefaultPreferences())
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.AlertThreshold)

	tooHigh := 11.0
	_, err = session.PreferencesUpdate{AlertThreshold: &tooHigh}.Apply(p)
	assert.ErrorIs(t, err, session.ErrInvalidPreferences)
}
