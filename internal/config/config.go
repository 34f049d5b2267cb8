// Package config loads service configuration from the environment and an
// optional config file named by SAFEROUTE_CONFIG.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/saferoute/saferoute/internal/crime"
	"github.com/saferoute/saferoute/internal/database"
	"github.com/saferoute/saferoute/internal/safety"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the complete service configuration.
type Config struct {
	App       AppConfig
	Telemetry TelemetryConfig
	Providers ProvidersConfig
	Pipeline  PipelineConfig
	Session   SessionConfig
	Database  database.Config
	Auth      AuthConfig
	PubSub    PubSubConfig
}

type AppConfig struct {
	Port     string
	Env      string
	LogLevel string
	// RequireTLS rejects plain HTTP requests that did not arrive through a TLS proxy.
	RequireTLS bool
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

type ProvidersConfig struct {
	ORSAPIKey            string
	ORSBaseURL           string
	OpenWeatherAPIKey    string
	OpenWeatherBaseURL   string
	SunriseSunsetBaseURL string
	PoliceUKBaseURL      string
	CrimeDataSource      string
	MaxRetries           uint64
}

type PipelineConfig struct {
	OptimizationThreshold float64
	PrimaryRiskFraction   float64
	ProviderTimeout       time.Duration
	SamplePoints          int
	BatchConcurrency      int
	TraceRetain           int
	Fallbacks             safety.Defaults
}

type SessionConfig struct {
	Store      string
	SQLitePath string
}

type AuthConfig struct {
	JWTSigningKey string
}

type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUIRE_TLS", false)

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	v.SetDefault("ORS_API_KEY", "")
	v.SetDefault("ORS_BASE_URL", "")
	v.SetDefault("OPENWEATHER_API_KEY", "")
	v.SetDefault("OPENWEATHER_BASE_URL", "")
	v.SetDefault("SUNRISE_SUNSET_BASE_URL", "")
	v.SetDefault("POLICE_UK_BASE_URL", "")
	v.SetDefault("CRIME_DATA_SOURCE", crime.DataSourceFallback)
	v.SetDefault("PROVIDER_MAX_RETRIES", 2)

	v.SetDefault("PIPELINE_OPTIMIZATION_THRESHOLD", 4.0)
	v.SetDefault("PIPELINE_PRIMARY_RISK_FRACTION", 0.5)
	v.SetDefault("PIPELINE_PROVIDER_TIMEOUT", "10s")
	v.SetDefault("PIPELINE_SAMPLE_POINTS", 5)
	v.SetDefault("BATCH_CONCURRENCY", 4)
	v.SetDefault("TRACE_RETAIN_PER_OPERATION", 1000)
	v.SetDefault("FALLBACK_WEATHER", 0.5)
	v.SetDefault("FALLBACK_CRIME", 0.5)
	v.SetDefault("FALLBACK_LIGHTING", 0.5)
	v.SetDefault("FALLBACK_TIME", 0.5)

	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("SQLITE_PATH", "saferoute.db")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "saferoute")
	v.SetDefault("DB_PASSWORD", "localdev")
	v.SetDefault("DB_NAME", "saferoute")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DB_STARTUP_TIMEOUT", "30s")

	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("PUBSUB_PROJECT_ID", "")
	v.SetDefault("PUBSUB_SUBSCRIPTION", "saferoute-jobs")
}

// Load reads the environment, and the file named by SAFEROUTE_CONFIG when set.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("SAFEROUTE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Port:       v.GetString("APP_PORT"),
			Env:        v.GetString("APP_ENV"),
			LogLevel:   v.GetString("LOG_LEVEL"),
			RequireTLS: v.GetBool("REQUIRE_TLS"),
		},
		Telemetry: TelemetryConfig{
			Enabled:     v.GetBool("OTEL_ENABLED"),
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SampleRatio: v.GetFloat64("OTEL_SAMPLE_RATIO"),
		},
		Providers: ProvidersConfig{
			ORSAPIKey:            v.GetString("ORS_API_KEY"),
			ORSBaseURL:           v.GetString("ORS_BASE_URL"),
			OpenWeatherAPIKey:    v.GetString("OPENWEATHER_API_KEY"),
			OpenWeatherBaseURL:   v.GetString("OPENWEATHER_BASE_URL"),
			SunriseSunsetBaseURL: v.GetString("SUNRISE_SUNSET_BASE_URL"),
			PoliceUKBaseURL:      v.GetString("POLICE_UK_BASE_URL"),
			CrimeDataSource:      v.GetString("CRIME_DATA_SOURCE"),
			MaxRetries:           v.GetUint64("PROVIDER_MAX_RETRIES"),
		},
		Pipeline: PipelineConfig{
			OptimizationThreshold: v.GetFloat64("PIPELINE_OPTIMIZATION_THRESHOLD"),
			PrimaryRiskFraction:   v.GetFloat64("PIPELINE_PRIMARY_RISK_FRACTION"),
			ProviderTimeout:       v.GetDuration("PIPELINE_PROVIDER_TIMEOUT"),
			SamplePoints:          v.GetInt("PIPELINE_SAMPLE_POINTS"),
			BatchConcurrency:      v.GetInt("BATCH_CONCURRENCY"),
			TraceRetain:           v.GetInt("TRACE_RETAIN_PER_OPERATION"),
			Fallbacks: safety.Defaults{
				safety.CategoryWeather:  v.GetFloat64("FALLBACK_WEATHER"),
				safety.CategoryCrime:    v.GetFloat64("FALLBACK_CRIME"),
				safety.CategoryLighting: v.GetFloat64("FALLBACK_LIGHTING"),
				safety.CategoryTime:     v.GetFloat64("FALLBACK_TIME"),
			},
		},
		Session: SessionConfig{
			Store:      strings.ToLower(v.GetString("SESSION_STORE")),
			SQLitePath: v.GetString("SQLITE_PATH"),
		},
		Database: database.Config{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSL_MODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			StartupTimeout:  v.GetDuration("DB_STARTUP_TIMEOUT"),
		},
		Auth: AuthConfig{
			JWTSigningKey: v.GetString("JWT_SIGNING_KEY"),
		},
		PubSub: PubSubConfig{
			ProjectID:    v.GetString("PUBSUB_PROJECT_ID"),
			Subscription: v.GetString("PUBSUB_SUBSCRIPTION"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Session.Store {
	case StoreMemory, StorePostgres:
	case StoreSQLite:
		if c.Session.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE %q is not one of memory, postgres, sqlite", c.Session.Store))
	}

	switch c.Providers.CrimeDataSource {
	case crime.DataSourceFallback, crime.DataSourcePoliceUK:
	default:
		errs = append(errs, fmt.Errorf("CRIME_DATA_SOURCE %q is not one of fallback, police_uk", c.Providers.CrimeDataSource))
	}

	if t := c.Pipeline.OptimizationThreshold; t <= 0 || t > 10 {
		errs = append(errs, fmt.Errorf("PIPELINE_OPTIMIZATION_THRESHOLD %v out of range (0, 10]", t))
	}
	if f := c.Pipeline.PrimaryRiskFraction; f <= 0 || f >= 1 {
		errs = append(errs, fmt.Errorf("PIPELINE_PRIMARY_RISK_FRACTION %v out of range (0, 1)", f))
	}
	if c.Pipeline.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PIPELINE_PROVIDER_TIMEOUT must be positive"))
	}
	if c.Pipeline.BatchConcurrency < 1 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be at least 1"))
	}
	for _, cat := range safety.Categories {
		if v := c.Pipeline.Fallbacks.Score(cat); v < 0 || v > cat.MaxScore() {
			errs = append(errs, fmt.Errorf("FALLBACK_%s %v out of range [0, %v]", strings.ToUpper(string(cat)), v, cat.MaxScore()))
		}
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
