// Package metrics provides Prometheus metrics collection for the churn service.
// It defines the HTTP, prediction, batch scoring and data drift metrics that
// are exposed via the /metrics endpoint for monitoring and alerting.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the churn service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route, method and status
	HTTPDuration *prometheus.HistogramVec // Request duration by route

	// ML and prediction metrics
	MLPredictions      prometheus.Counter   // Total number of rows scored
	MLFailures         prometheus.Counter   // Total number of scoring failures
	MLModelAge         prometheus.Gauge     // Age of the loaded model in seconds
	MLLatency          prometheus.Histogram // Scoring latency in seconds
	MLAccuracy         prometheus.Histogram // Accuracy on labelled batches
	MLPredictionScores prometheus.Histogram // Distribution of churn probabilities
	MLFallbackUse      prometheus.Counter   // Batches whose drivers fell back to heuristics

	// Batch and data quality metrics
	CSVRowsScored   prometheus.Counter     // Rows scored through CSV uploads
	CSVRejected     prometheus.Counter     // Uploads rejected as malformed
	DriftAlerts     *prometheus.CounterVec // Drift alerts by feature and severity
	AuditWriteFails prometheus.Counter     // Failed writes to the prediction history

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// When registerer is also a Gatherer, Handler serves from it.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	gatherer := prometheus.DefaultGatherer
	if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of churn predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of churn prediction failures",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the loaded churn model in seconds",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Churn scoring latency in seconds (preprocessing included)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		MLAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_accuracy",
			Help:    "Churn model accuracy on uploads carrying ground truth",
			Buckets: []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		MLFallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_fallback_use_total",
			Help: "Total number of batches explained with heuristic drivers",
		}),
		CSVRowsScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "csv_rows_scored_total",
			Help: "Total number of rows scored from CSV uploads",
		}),
		CSVRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "csv_rejected_total",
			Help: "Total number of CSV uploads rejected",
		}),
		DriftAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drift_alerts_total",
			Help: "Total number of data drift alerts raised on uploads",
		}, []string{"feature", "severity"}),
		AuditWriteFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed prediction history writes",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
		gatherer: gatherer,
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	if status >= http.StatusInternalServerError {
		m.ErrorsTotal.Inc()
	}
}

// RecordDrift counts one drift alert.
func (m *Metrics) RecordDrift(feature, severity string) {
	m.DriftAlerts.WithLabelValues(feature, severity).Inc()
}

// GetErrorRate calculates the current failure rate of churn scoring.
// Returns the ratio of failures to predictions, or 0 if no predictions have
// been recorded.
func (m *Metrics) GetErrorRate() float64 {
	var total, failures float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "ml_predictions_total":
			for _, metric := range mf.Metric {
				total = metric.GetCounter().GetValue()
			}
		case "ml_failures_total":
			for _, metric := range mf.Metric {
				failures = metric.GetCounter().GetValue()
			}
		}
	}

	if total == 0 {
		return 0
	}
	return failures / total
}
