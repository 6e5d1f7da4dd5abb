package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "los_telemetry"

// Metrics holds the Prometheus counters, histograms, and gauges for the telemetry service.
type Metrics struct {
	MessagesConsumed  prometheus.Counter
	RetainedSkipped   prometheus.Counter
	MalformedPayloads prometheus.Counter
	PipelineRunning   prometheus.Gauge

	ReadingsNormalized prometheus.Counter
	ReadingsPersisted  prometheus.Counter
	PersistErrors      prometheus.Counter
	BroadcastErrors    *prometheus.CounterVec // labels: event={reading,raw_message}

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Alerting metrics.
	AlertsTriggered       prometheus.Counter
	AlertsSuppressed      prometheus.Counter
	AlertsDropped         prometheus.Counter
	ThresholdLookupErrors prometheus.Counter
	ThresholdCache        *prometheus.CounterVec // labels: result={hit,miss}
	NotifyErrors          *prometheus.CounterVec // labels: sink={redis,webhook}

	WebsocketClients prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total MQTT messages taken from the ingest buffer.",
		}),
		RetainedSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retained_skipped_total",
			Help:      "Retained messages replayed by the broker and ignored.",
		}),
		MalformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Messages whose payload was not a JSON object.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		ReadingsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_normalized_total",
			Help:      "Total readings produced by the normalizer.",
		}),
		ReadingsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_persisted_total",
			Help:      "Total readings written to the store.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total failed reading inserts.",
		}),
		BroadcastErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_errors_total",
			Help:      "Failed broadcasts by event type.",
		}, []string{"event"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch taken from the ingest buffer.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch normalize-broadcast-persist cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Threshold alerts dispatched.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Threshold breaches suppressed by the cooldown.",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts not delivered because too many notifications were in flight.",
		}),
		ThresholdLookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_lookup_errors_total",
			Help:      "Failed threshold lookups; evaluation is skipped.",
		}),
		ThresholdCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_cache_total",
			Help:      "Threshold cache lookups by result.",
		}, []string{"result"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed alert deliveries by sink.",
		}, []string{"sink"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Currently connected live-feed clients.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.RetainedSkipped,
		m.MalformedPayloads,
		m.PipelineRunning,
		m.ReadingsNormalized,
		m.ReadingsPersisted,
		m.PersistErrors,
		m.BroadcastErrors,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.AlertsTriggered,
		m.AlertsSuppressed,
		m.AlertsDropped,
		m.ThresholdLookupErrors,
		m.ThresholdCache,
		m.NotifyErrors,
		m.WebsocketClients,
	}
}
