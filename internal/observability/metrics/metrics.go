package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "coldchain_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	evaluationsTotal  *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec
	transitionsTotal  *prometheus.CounterVec

	alertEventsTotal *prometheus.CounterVec
	notifySendsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total reading ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Total unit evaluations by outcome",
			},
			[]string{"outcome"},
		)
		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Unit evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Total unit status transitions by edge",
			},
			[]string{"from", "to"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		notifySendsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_sends_total",
				Help: "Total notification sends by channel and result",
			},
			[]string{"channel", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_export_total",
				Help: "Total alert history exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_export_latency_seconds",
				Help:    "Alert history export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			evaluationsTotal,
			evaluationLatency,
			transitionsTotal,
			alertEventsTotal,
			notifySendsTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncEvaluation increments the evaluation counter by outcome.
func IncEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveEvaluation records evaluation latency and result.
func ObserveEvaluation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncTransition increments the status transition counter.
func IncTransition(from, to string) {
	if from == "" || to == "" {
		return
	}
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(from, to).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncNotifySend increments notification send counters.
func IncNotifySend(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifySendsTotal != nil {
		notifySendsTotal.WithLabelValues(channel, result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
