package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert pipeline.
type Metrics struct {
	ReadingsConsumed prometheus.Counter
	ReadingErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge
	BatchSize        prometheus.Histogram

	// Evaluation metrics.
	EvaluationDuration prometheus.Histogram
	Evaluations        *prometheus.CounterVec // labels: outcome={no_alert,suppressed,enqueued,error}
	SmoothingFallbacks *prometheus.CounterVec // labels: reason={no_data,error,disabled}
	DeliveriesEnqueued *prometheus.CounterVec // labels: severity
	AlertPublishErrors prometheus.Counter

	// Queue metrics.
	Claims        *prometheus.CounterVec // labels: result={claimed,empty,undeliverable,contention,error}
	Acks          *prometheus.CounterVec // labels: result={SENT,SKIPPED,RELEASED,FAILED,error}
	StaleReleased prometheus.Counter
	SMSDuration   prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ReadingsConsumed,
		m.ReadingErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.EvaluationDuration,
		m.Evaluations,
		m.SmoothingFallbacks,
		m.DeliveriesEnqueued,
		m.AlertPublishErrors,
		m.Claims,
		m.Acks,
		m.StaleReleased,
		m.SMSDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_consumed_total",
			Help:      "Total readings read from the readings topic or HTTP endpoint.",
		}),
		ReadingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reading_errors_total",
			Help:      "Readings rejected before evaluation.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the readings consumer is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of readings per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of a single smoothing, classification, cooldown and enqueue pass.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Reading evaluations by outcome.",
		}, []string{"outcome"}),
		SmoothingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smoothing_fallbacks_total",
			Help:      "Evaluations that used the raw value instead of the smoothed mean.",
		}, []string{"reason"}),
		DeliveriesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_enqueued_total",
			Help:      "Pending deliveries created by severity.",
		}, []string{"severity"}),
		AlertPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_publish_errors_total",
			Help:      "Alert events that could not be published to the alert topic.",
		}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by result.",
		}, []string{"result"}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Delivery acknowledgements by result.",
		}, []string{"result"}),
		StaleReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_claims_released_total",
			Help:      "Claimed deliveries reverted by the stale-claim sweep.",
		}),
		SMSDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sms_request_duration_seconds",
			Help:      "SMS gateway request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
