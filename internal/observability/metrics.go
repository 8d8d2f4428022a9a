package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sonde_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert service.
type Metrics struct {
	MessagesConsumed *prometheus.CounterVec // labels: source={kafka,sondehub,http}
	SourceErrors     *prometheus.CounterVec // labels: source
	EventsDropped    *prometheus.CounterVec // labels: reason={malformed,queue_full}
	PipelineRunning  prometheus.Gauge

	// Evaluation engine metrics.
	EventsEvaluated    prometheus.Counter
	AlertsFired        *prometheus.CounterVec // labels: criterion
	AlertsSuppressed   prometheus.Counter
	AlertsCleared      prometheus.Counter
	TrackedObjects     prometheus.Gauge
	StateEvicted       prometheus.Counter
	EvaluationDuration prometheus.Histogram

	// Notification dispatch metrics.
	NotificationsSent    *prometheus.CounterVec // labels: notifier
	NotificationsFailed  *prometheus.CounterVec // labels: notifier
	NotificationsDropped *prometheus.CounterVec // labels: reason={queue_full,rate_limited,closed,shutdown}
	DispatchQueueDepth   prometheus.Gauge
	DispatchDuration     *prometheus.HistogramVec // labels: notifier
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      help("Telemetry messages received, by source."),
		}, []string{"source"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      help("Errors reading from a telemetry source."),
		}, []string{"source"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      help("Telemetry events dropped before evaluation, by reason."),
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		EventsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_evaluated_total",
			Help:      help("Telemetry events evaluated against the criteria."),
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      help("Rising-edge alerts, by criterion."),
		}, []string{"criterion"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      help("Matches suppressed because the criterion was already armed."),
		}),
		AlertsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_cleared_total",
			Help:      help("Armed criteria reset after the sonde left the envelope."),
		}),
		TrackedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_objects",
			Help:      help("Sondes currently holding alert state."),
		}),
		StateEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_evicted_total",
			Help:      help("Sondes whose alert state was evicted after inactivity."),
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      help("Time to evaluate one event against all criteria."),
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      help("Notifications delivered, by notifier."),
		}, []string{"notifier"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      help("Notification delivery failures, by notifier."),
		}, []string{"notifier"}),
		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      help("Notifications dropped before delivery, by reason."),
		}, []string{"reason"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      help("Notifications waiting in the dispatch queue."),
		}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      help("Notification delivery duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"notifier"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.SourceErrors,
		m.EventsDropped,
		m.PipelineRunning,
		m.EventsEvaluated,
		m.AlertsFired,
		m.AlertsSuppressed,
		m.AlertsCleared,
		m.TrackedObjects,
		m.StateEvicted,
		m.EvaluationDuration,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsDropped,
		m.DispatchQueueDepth,
		m.DispatchDuration,
	}
}
