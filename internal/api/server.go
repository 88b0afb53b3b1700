// Package api exposes the churn model over HTTP: single-customer scoring and
// explanation, CSV batch scoring with portfolio insights, model metadata,
// prediction history and Prometheus metrics.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"churn-service/internal/explain"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

const (
	maxUploadBytes = 64 << 20
	defaultHistory = 50
)

// Config wires the server's collaborators. Versions and Store are optional.
type Config struct {
	Predictor      *ml.Predictor
	Versions       *ml.ModelManager
	Store          *storage.Store
	Metrics        *metrics.Metrics
	CORSOrigins    []string
	RequestTimeout time.Duration
	Batch          explain.BatchOptions
	DriftThreshold float64
}

// Server routes HTTP requests to the churn model.
type Server struct {
	predictor      *ml.Predictor
	versions       *ml.ModelManager
	store          *storage.Store
	metrics        *metrics.Metrics
	batch          explain.BatchOptions
	driftThreshold float64
	router         *chi.Mux
}

// NewServer builds the router. Metrics default to a fresh default-registry
// set when cfg.Metrics is nil.
func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = ml.DefaultDriftThreshold
	}

	s := &Server{
		predictor:      cfg.Predictor,
		versions:       cfg.Versions,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		batch:          cfg.Batch,
		driftThreshold: cfg.DriftThreshold,
	}
	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupRoutes(cfg Config) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Post("/predict", s.handlePredict)
	r.Post("/explain", s.handleExplain)
	r.Post("/predict-csv", s.handlePredictCSV)
	r.Get("/model/info", s.handleModelInfo)
	r.Get("/model/versions", s.handleListVersions)
	r.Post("/model/rollback", s.handleRollback)
	r.Post("/model/reload", s.handleReload)
	r.Get("/predictions/history", s.handleHistory)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for s listening on port.
func (s *Server) HTTPServer(port int, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondDetail writes an error body of the form {"detail": message}.
func respondDetail(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}
