// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feature pipeline metrics
	PriceBarsStored    prometheus.Counter
	FeaturesComputed   *prometheus.CounterVec
	FeatureErrors      *prometheus.CounterVec
	FeatureRunDuration prometheus.Histogram

	// Training metrics
	TrainingRunsTotal   *prometheus.CounterVec
	TrainingDuration    *prometheus.HistogramVec
	TrainingDatasetRows prometheus.Histogram
	ModelsByStatus      *prometheus.GaugeVec

	// Inference metrics
	PredictionsGenerated *prometheus.CounterVec
	PredictionsPublished prometheus.Counter
	InferenceLatency     *prometheus.HistogramVec
	InferenceErrors      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTraining  prometheus.Gauge
	LastSuccessfulInference prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stock_prediction_lab"
	}

	return &Metrics{
		// Feature pipeline metrics
		PriceBarsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "price_bars_stored_total",
			Help:      "Total number of price bars stored to database",
		}),
		FeaturesComputed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "values_computed_total",
			Help:      "Total number of feature values computed by type",
		}, []string{"feature_type"}),
		FeatureErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "errors_total",
			Help:      "Total number of feature computation errors by type",
		}, []string{"feature_type"}),
		FeatureRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "run_duration_seconds",
			Help:      "Feature pipeline run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),

		// Training metrics
		TrainingRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_total",
			Help:      "Total number of training runs by architecture and status",
		}, []string{"architecture", "status"}),
		TrainingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "duration_seconds",
			Help:      "Training run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"architecture"}),
		TrainingDatasetRows: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "dataset_rows",
			Help:      "Number of dataset rows per training run",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000},
		}),
		ModelsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "models",
			Help:      "Number of registered models by status",
		}, []string{"status"}),

		// Inference metrics
		PredictionsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "predictions_generated_total",
			Help:      "Total number of predictions generated by architecture",
		}, []string{"architecture"}),
		PredictionsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "predictions_published_total",
			Help:      "Total number of prediction events published",
		}),
		InferenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "latency_seconds",
			Help:      "Prediction generation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"architecture"}),
		InferenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "errors_total",
			Help:      "Total number of inference errors by type",
		}, []string{"error_type"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTraining: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_training_timestamp",
			Help:      "Unix timestamp of last successful training run",
		}),
		LastSuccessfulInference: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_inference_timestamp",
			Help:      "Unix timestamp of last successful prediction run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe blocks serving the /metrics endpoint on addr.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeatureComputed increments the computed counter for a feature type.
func RecordFeatureComputed(featureType string, count int) {
	DefaultMetrics.FeaturesComputed.WithLabelValues(featureType).Add(float64(count))
}

// RecordFeatureError records a feature computation error.
func RecordFeatureError(featureType string) {
	DefaultMetrics.FeatureErrors.WithLabelValues(featureType).Inc()
}

// RecordTrainingRun records a finished training run.
func RecordTrainingRun(architecture, status string, durationSeconds float64) {
	DefaultMetrics.TrainingRunsTotal.WithLabelValues(architecture, status).Inc()
	DefaultMetrics.TrainingDuration.WithLabelValues(architecture).Observe(durationSeconds)
}

// RecordPredictionsPublished counts prediction events handed to the broker.
func RecordPredictionsPublished(count int) {
	DefaultMetrics.PredictionsPublished.Add(float64(count))
}

// RecordPredictions records generated predictions for an architecture.
func RecordPredictions(architecture string, count int, latencySeconds float64) {
	DefaultMetrics.PredictionsGenerated.WithLabelValues(architecture).Add(float64(count))
	DefaultMetrics.InferenceLatency.WithLabelValues(architecture).Observe(latencySeconds)
}

// RecordInferenceError records an inference error.
func RecordInferenceError(errorType string) {
	DefaultMetrics.InferenceErrors.WithLabelValues(errorType).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
