// Package main is the entry point for sweepd, the parameter-sweep service.
// It wires the result cache, the sweep engine, the consensus selector, the
// robustness validator and the job orchestrator behind an HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sweepd/internal/cache"
	"github.com/aristath/sweepd/internal/config"
	"github.com/aristath/sweepd/internal/database"
	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/evaluator"
	"github.com/aristath/sweepd/internal/events"
	"github.com/aristath/sweepd/internal/jobs"
	"github.com/aristath/sweepd/internal/marketdata"
	"github.com/aristath/sweepd/internal/observability"
	"github.com/aristath/sweepd/internal/robustness"
	"github.com/aristath/sweepd/internal/server"
	"github.com/aristath/sweepd/internal/store"
	"github.com/aristath/sweepd/internal/sweep"
	"github.com/aristath/sweepd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().
		Int("port", cfg.Port).
		Int("max_workers", cfg.MaxWorkers).
		Str("data_dir", cfg.DataDir).
		Msg("Starting sweepd")

	// Databases: a speed-profile one for the warm metric cache, a durable one
	// for sweep outputs.
	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	warmStore, err := cache.NewWarmStore(cacheDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize warm cache store")
	}
	resultStore, err := store.New(resultsDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize result store")
	}

	collector := observability.NewCollector()
	bus := events.NewBus()
	eventManager := events.NewManager(bus, log)
	registerAuditHandlers(bus, log)

	resultCache := cache.New(cache.Config{
		ExchangeTZ:  cfg.ExchangeTimezone,
		IntradayTTL: cfg.IntradayCacheTTL,
		WarmStore:   warmStore,
		Stats:       collector,
	}, log)

	janitor := cache.NewJanitor(resultCache, eventManager, log)
	if err := janitor.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start cache janitor")
	}
	defer janitor.Stop()

	metricEvaluator := evaluator.New()
	source := &marketdata.SyntheticSource{}
	score := func(b *domain.MetricBundle) float64 { return b.Sharpe }

	engine := sweep.NewEngine(resultCache, metricEvaluator, source, score, cfg.MaxWorkers, log)
	validator := robustness.NewValidator(metricEvaluator, score, cfg.MaxWorkers, log)
	manager := jobs.NewManager(engine, validator, source, resultStore, eventManager, collector, log)

	srv := server.New(server.Config{
		Log:                log,
		Port:               cfg.Port,
		DevMode:            cfg.DevMode,
		SyncSweepThreshold: cfg.SyncSweepThreshold,
		SimulationTimeout:  cfg.SimulationTimeout,
		Jobs:               manager,
		Metrics:            collector,
		Cache:              resultCache,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("sweepd stopped")
}

// registerAuditHandlers subscribes an audit log to job lifecycle and cache
// maintenance events so terminal outcomes are recorded even when debug
// logging is off.
func registerAuditHandlers(bus *events.Bus, log zerolog.Logger) {
	auditLog := log.With().Str("component", "audit").Logger()

	lifecycle := func(ev *events.Event) {
		data, ok := ev.Data.(*events.JobStatusData)
		if !ok {
			return
		}
		entry := auditLog.Info()
		if ev.Type == events.JobFailed {
			entry = auditLog.Warn().
				Str("error_kind", data.ErrorKind).
				Str("error_message", data.ErrorMsg)
		}
		entry.
			Str("event", string(ev.Type)).
			Str("job_id", data.JobID).
			Str("instrument", data.Instrument).
			Float64("elapsed_seconds", data.Elapsed).
			Msg("Job lifecycle")
	}
	for _, t := range []events.EventType{events.JobCompleted, events.JobFailed, events.JobCancelled} {
		bus.Subscribe(t, lifecycle)
	}

	bus.Subscribe(events.CachePurged, func(ev *events.Event) {
		if data, ok := ev.Data.(*events.CachePurgedData); ok {
			auditLog.Info().Int("removed", data.Removed).Msg("Cache purged")
		}
	})
}
