package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iho/tripledger/internal/domain"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger metrics
	RecordsAppended   *prometheus.CounterVec
	RecordedAmount    *prometheus.HistogramVec
	StatusTransitions *prometheus.CounterVec
	Reversals         prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	StorageRetries    *prometheus.CounterVec

	// Consistency metrics
	ConsistencyDiscrepancies *prometheus.GaugeVec

	// Cache and idempotency metrics
	CacheLookups      *prometheus.CounterVec
	IdempotentReplays prometheus.Counter

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge
}

// New creates all metrics and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RecordsAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_records_appended_total",
				Help: "Total number of records appended by type",
			},
			[]string{"type"},
		),
		RecordedAmount: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripledger_recorded_amount",
				Help:    "Magnitude of recorded amounts",
				Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			},
			[]string{"currency"},
		),
		StatusTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_status_transitions_total",
				Help: "Total number of status transitions by target status",
			},
			[]string{"to"},
		),
		Reversals: f.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_reversals_total",
			Help: "Total number of reversal records appended",
		}),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OperationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_operation_errors_total",
				Help: "Total number of failed ledger operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		StorageRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_storage_retries_total",
				Help: "Write units re-run after a transient conflict, by SQLSTATE",
			},
			[]string{"sqlstate"},
		),

		ConsistencyDiscrepancies: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tripledger_consistency_discrepancies",
				Help: "Discrepancies found by the last consistency check",
			},
			[]string{"kind"},
		),

		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_cache_lookups_total",
				Help: "Record cache lookups by result",
			},
			[]string{"result"},
		),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_idempotent_replays_total",
			Help: "Requests answered from a stored idempotent response",
		}),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_outbox_published_total",
			Help: "Outbox events delivered to the broker",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_outbox_failures_total",
			Help: "Outbox events that failed to publish",
		}),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripledger_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripledger_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tripledger_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
	}
}

// CacheLookup records one record cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ErrorKind maps an error to a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
