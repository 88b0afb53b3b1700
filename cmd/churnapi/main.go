package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"churn-service/internal/api"
	"churn-service/internal/cfg"
	"churn-service/internal/explain"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	predictor := ml.NewPredictor(c.ModelPath, metrics.NewWrapper(m))

	// Load eagerly so a missing model shows up in the startup log; requests
	// retry the load and answer with a training hint until it succeeds.
	if _, err := predictor.Model(); err != nil {
		log.Warn().Err(err).Str("path", c.ModelPath).Msg("Model not loaded yet, run churntrain first")
	}

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	batch := explain.DefaultBatchOptions()
	batch.SampleRows = c.ExplainSampleRows
	batch.BackgroundRows = c.ExplainBackgroundRows
	batch.Seed = c.RandomState

	server := api.NewServer(api.Config{
		Predictor:      predictor,
		Versions:       initializeVersions(c),
		Store:          store,
		Metrics:        m,
		CORSOrigins:    c.CORSOrigins,
		RequestTimeout: c.RequestTimeout,
		Batch:          batch,
		DriftThreshold: c.DriftThreshold,
	})
	httpServer := server.HTTPServer(c.ListenPort, c.RequestTimeout)

	go func() {
		log.Info().Int("port", c.ListenPort).Str("model", c.ModelPath).Msg("Churn API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, httpServer)
}

// initializeStorage opens the audit store if STORE_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.StorePath == "" {
		return nil
	}
	store, err := storage.New(c.StorePath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// initializeVersions opens the version registry kept next to the model
func initializeVersions(c cfg.Settings) *ml.ModelManager {
	mm, err := ml.NewModelManager(filepath.Dir(c.ModelPath))
	if err != nil {
		log.Warn().Err(err).Msg("model registry unavailable, continuing without versions")
		return nil
	}
	if v := mm.CurrentVersion(); v != nil {
		log.Info().Str("version", v.Version).Str("model", v.ModelName).Msg("Active model version")
	}
	return mm
}

// waitForShutdown blocks until a signal arrives or ctx ends, then drains
// in-flight requests.
func waitForShutdown(ctx context.Context, server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
