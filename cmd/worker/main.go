// Package main provides the entrypoint for the SafeRoute job worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/app"
	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/telemetry"
	"github.com/saferoute/saferoute/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// warmInterval is how often caches are warmed when no subscription is configured.
const warmInterval = 15 * time.Minute

func main() {
	const serviceName = "saferoute-worker"

	cfg, err := config.Load()
	if err != nil {
		startupLog := zerolog.New(os.Stderr)
		startupLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := app.Logger(serviceName, Version, cfg.App, os.Stdout)
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SafeRoute worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	pipe, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer pipe.Close()

	warmJob := worker.NewWarmJob(worker.WarmJobConfig{
		Config:   worker.DefaultWarmConfig(),
		Fetchers: pipe.Fetchers,
		Logger:   log.With().Str("job", worker.JobCacheWarm).Logger(),
	})
	processor := worker.NewProcessor(worker.ProcessorConfig{
		Analyzer: pipe.Service,
		WarmJob:  warmJob,
		Logger:   log,
	})

	// The worker exposes a health endpoint for Cloud Run.
	mux := chi.NewRouter()
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		m := warmJob.Metrics()
		response.JSON(w, r, http.StatusOK, models.Health{
			Status: models.HealthStatusOK,
			Time:   time.Now().UTC(),
			Details: map[string]any{
				"version":       Version,
				"warm_runs":     m.Runs,
				"points_warmed": m.PointsWarmed,
			},
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSub.ProjectID != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Processor:        processor,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub receive stopped")
				cancel()
			}
		}()
	} else {
		log.Warn().Dur("interval", warmInterval).Msg("PUBSUB_PROJECT_ID not set - warming caches on a timer")
		go func() {
			ticker := time.NewTicker(warmInterval)
			defer ticker.Stop()
			for {
				if err := processor.Handle(ctx, []byte(`{"job_type":"`+worker.JobCacheWarm+`"}`)); err != nil {
					log.Warn().Err(err).Msg("cache warm failed")
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
