package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine metrics
type Metrics struct {
	// Stage processing
	StagesProcessed        prometheus.Counter
	StagesFailed           prometheus.Counter
	StageProcessingLatency prometheus.Histogram

	// Dispatch per channel
	DispatchTotal *prometheus.CounterVec

	// Action execution
	PaymentRetries *prometheus.CounterVec
	ActionsTotal   *prometheus.CounterVec

	// Sequence outcomes
	FailuresRecovered prometheus.Counter
	FailuresSuspended prometheus.Counter

	// Persistence
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		StagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stages_processed_total",
			Help:      "Total number of dunning stages dispatched",
		}),
		StagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stages_failed_total",
			Help:      "Total number of dunning stages that failed processing",
		}),
		StageProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_processing_duration_seconds",
			Help:      "Time spent processing a due dunning stage",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_total",
			Help:      "Notification dispatch attempts by channel and status",
		}, []string{"channel", "status"}),
		PaymentRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payment_retries_total",
			Help:      "Payment retry attempts by outcome",
		}, []string{"status"}),
		ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_actions_total",
			Help:      "Stage side-effect executions by action type and status",
		}, []string{"action", "status"}),
		FailuresRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_recovered_total",
			Help:      "Payment failures closed as recovered",
		}),
		FailuresSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_suspended_total",
			Help:      "Payment failures closed as suspended",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New returns an unregistered metric set. Used by workers that expose their
// own registry and by tests.
func New(namespace string) *Metrics {
	return &Metrics{
		StagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_processed_total",
			Help:      "Total number of dunning stages dispatched",
		}),
		StagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_failed_total",
			Help:      "Total number of dunning stages that failed processing",
		}),
		StageProcessingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_processing_duration_seconds",
			Help:      "Time spent processing a due dunning stage",
		}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Notification dispatch attempts by channel and status",
		}, []string{"channel", "status"}),
		PaymentRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_retries_total",
			Help:      "Payment retry attempts by outcome",
		}, []string{"status"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_actions_total",
			Help:      "Stage side-effect executions by action type and status",
		}, []string{"action", "status"}),
		FailuresRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_recovered_total",
			Help:      "Payment failures closed as recovered",
		}),
		FailuresSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_suspended_total",
			Help:      "Payment failures closed as suspended",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
