// Package metrics provides Prometheus metrics for the care services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	VisitsAnalyzed        prometheus.Counter
	AnalysisFallbacks     prometheus.Counter
	NudgesEmitted         *prometheus.CounterVec
	MergeConflicts        prometheus.Counter
	AnalysisDuration      prometheus.Histogram
	RemindersScanned      prometheus.Counter
	RemindersSent         prometheus.Counter
	RemindersSkippedLock  prometheus.Counter
	RemindersSkippedMed   prometheus.Counter
	ReminderScanDuration  prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		VisitsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_visits_analyzed_total",
			Help: "Total finished visits run through the delta analyzer",
		}),
		AnalysisFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_analysis_fallbacks_total",
			Help: "Total analyses served by the deterministic fallback",
		}),
		NudgesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "care_nudges_emitted_total",
			Help: "Total nudges emitted after policy clamping",
		}, []string{"type"}),
		MergeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_context_merge_conflicts_total",
			Help: "Total context merges that exhausted conflict retries",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "care_visit_analysis_duration_seconds",
			Help:    "Visit analysis duration including backend call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		RemindersScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_reminders_scanned_total",
			Help: "Total enabled reminders examined by dispatch scans",
		}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_reminders_sent_total",
			Help: "Total reminder notifications delivered",
		}),
		RemindersSkippedLock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_reminders_skipped_lock_total",
			Help: "Total due reminders skipped because another scan held the lock",
		}),
		RemindersSkippedMed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_reminders_skipped_medication_total",
			Help: "Total due reminders skipped by the medication-state guard",
		}),
		ReminderScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "care_reminder_scan_duration_seconds",
			Help:    "Reminder dispatch scan duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.VisitsAnalyzed,
		m.AnalysisFallbacks,
		m.NudgesEmitted,
		m.MergeConflicts,
		m.AnalysisDuration,
		m.RemindersScanned,
		m.RemindersSent,
		m.RemindersSkippedLock,
		m.RemindersSkippedMed,
		m.ReminderScanDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
