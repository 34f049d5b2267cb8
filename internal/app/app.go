// Package app assembles the pipeline service from configuration. The API
// server and the worker share it.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/alert"
	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/crime/policeuk"
	"github.com/saferoute/saferoute/internal/database"
	"github.com/saferoute/saferoute/internal/lighting"
	"github.com/saferoute/saferoute/internal/lighting/sunrisesunset"
	"github.com/saferoute/saferoute/internal/optimize"
	"github.com/saferoute/saferoute/internal/pipeline"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/risk"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/routing/openrouteservice"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/internal/timeofday"
	"github.com/saferoute/saferoute/internal/tracing"
	"github.com/saferoute/saferoute/internal/weather"
	"github.com/saferoute/saferoute/internal/weather/openweathermap"
)

// App is a fully wired pipeline.
type App struct {
	Service  *pipeline.Service
	Registry *resilience.Registry
	// Fetchers are the cacheable safety sources, for cache warming.
	Fetchers []safety.Fetcher

	closers []func()
}

// Close releases the session store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Logger builds the process logger at the configured level.
func Logger(serviceName, version string, cfg config.AppConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Str("env", cfg.Env).
		Logger()
}

// Build wires providers, safety sources, the session store and the
// orchestrator. Providers without credentials are left out and their
// stages degrade.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Registry: resilience.NewRegistry()}

	httpClient := func(name string) *resilience.Client {
		c := resilience.DefaultClientConfig(name)
		c.Timeout = cfg.Pipeline.ProviderTimeout
		c.MaxRetries = cfg.Providers.MaxRetries
		c.Registry = a.Registry
		return resilience.NewClient(c)
	}

	var routes routing.Provider
	if cfg.Providers.ORSAPIKey != "" {
		routes = openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:     cfg.Providers.ORSAPIKey,
			BaseURL:    cfg.Providers.ORSBaseURL,
			HTTPClient: httpClient(openrouteservice.ProviderName),
			Timeout:    cfg.Pipeline.ProviderTimeout,
			Logger:     log,
		})
	} else {
		log.Warn().Msg("ORS_API_KEY not set, routes degrade to straight lines")
	}
	planner := routing.NewPlanner(routing.PlannerConfig{
		Provider: routes,
		Logger:   log,
		Timeout:  cfg.Pipeline.ProviderTimeout,
	})

	var weatherSource safety.Fetcher
	if cfg.Providers.OpenWeatherAPIKey != "" {
		weatherSource = weather.NewSource(weather.SourceConfig{
			Provider: openweathermap.NewClient(openweathermap.ClientConfig{
				APIKey:     cfg.Providers.OpenWeatherAPIKey,
				BaseURL:    cfg.Providers.OpenWeatherBaseURL,
				HTTPClient: httpClient(openweathermap.ProviderName),
				Logger:     log,
			}),
			Logger: log,
		})
		a.Fetchers = append(a.Fetchers, weatherSource)
	} else {
		log.Warn().Msg("OPENWEATHER_API_KEY not set, weather uses its fallback score")
	}

	var crimeProvider crime.Provider
	if cfg.Providers.CrimeDataSource == crime.DataSourcePoliceUK {
		crimeProvider = policeuk.NewClient(policeuk.ClientConfig{
			BaseURL:    cfg.Providers.PoliceUKBaseURL,
			HTTPClient: httpClient(policeuk.ProviderName),
			Logger:     log,
		})
	}
	crimeSource, err := crime.NewFetcher(cfg.Providers.CrimeDataSource, crimeProvider,
		cfg.Pipeline.Fallbacks.Score(safety.CategoryCrime), log)
	if err != nil {
		return nil, err
	}
	if crimeProvider != nil {
		a.Fetchers = append(a.Fetchers, crimeSource)
	}

	lightingSource := lighting.NewSource(lighting.SourceConfig{
		Provider: sunrisesunset.NewClient(sunrisesunset.ClientConfig{
			BaseURL:    cfg.Providers.SunriseSunsetBaseURL,
			HTTPClient: httpClient(sunrisesunset.ProviderName),
			Logger:     log,
		}),
		Logger: log,
	})
	a.Fetchers = append(a.Fetchers, lightingSource)

	tracer := tracing.New(tracing.Config{Logger: log, Retain: cfg.Pipeline.TraceRetain})

	gatherer := safety.NewGatherer(safety.GathererConfig{
		Weather:      weatherSource,
		Crime:        crimeSource,
		Lighting:     lightingSource,
		Time:         timeofday.Source{},
		Tracer:       tracer,
		Logger:       log,
		Timeout:      cfg.Pipeline.ProviderTimeout,
		SamplePoints: cfg.Pipeline.SamplePoints,
		Defaults:     cfg.Pipeline.Fallbacks,
	})

	store, err := a.openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Config{
		Planner:               planner,
		Gatherer:              gatherer,
		Scorer:                risk.NewScorer(cfg.Pipeline.PrimaryRiskFraction),
		Optimizer:             optimize.NewOptimizer(optimize.Config{Finder: planner, Logger: log}),
		Narrator:              alert.NewNarrator(),
		Store:                 store,
		Tracer:                tracer,
		Logger:                log,
		OptimizationThreshold: cfg.Pipeline.OptimizationThreshold,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Service = pipeline.NewService(orchestrator, cfg.Pipeline.BatchConcurrency)

	log.Info().
		Str("route_provider", planner.ProviderName()).
		Str("crime_source", cfg.Providers.CrimeDataSource).
		Str("session_store", cfg.Session.Store).
		Int("registered_providers", a.Registry.Len()).
		Float64("optimization_threshold", orchestrator.Threshold()).
		Msg("pipeline initialized")
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (session.Store, error) {
	switch cfg.Session.Store {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		store := session.NewPostgresStore(pool)
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrating session schema: %w", err)
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
		return store, nil

	case config.StoreSQLite:
		store, err := session.OpenSQLite(ctx, cfg.Session.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite session store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close sqlite session store")
			}
		})
		return store, nil

	default:
		return session.NewMemoryStore(), nil
	}
}
