// Package metrics exports store calls, batch retries and transaction
// cancellations as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// Call outcomes used for the status label.
const (
	StatusOK              = "ok"
	StatusConditionFailed = "condition_failed"
	StatusCancelled       = "cancelled"
	StatusNotFound        = "not_found"
	StatusError           = "error"
)

// Collector holds the Prometheus metrics for one DB. Each collector owns its
// registry, so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Capacity      *prometheus.CounterVec
	BatchRetries  *prometheus.CounterVec
	Cancellations *prometheus.CounterVec
}

var _ core.Observer = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_operations_total",
				Help:      "Total number of DynamoDB calls",
			},
			[]string{"operation", "table", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_operation_duration_seconds",
				Help:      "DynamoDB call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		Capacity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_consumed_capacity_units_total",
				Help:      "Capacity units reported by DynamoDB",
			},
			[]string{"operation", "table"},
		),
		BatchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_retried_requests_total",
				Help:      "Unprocessed batch requests that were resubmitted",
			},
			[]string{"operation", "table"},
		),
		Cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_cancellations_total",
				Help:      "Cancelled transactions by primary reason",
			},
			[]string{"reason"},
		),
	}
	c.registry.MustRegister(c.Operations, c.Duration, c.Capacity, c.BatchRetries, c.Cancellations)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveCall records one completed call.
func (c *Collector) ObserveCall(call core.Call) {
	c.Operations.WithLabelValues(call.Operation, call.Table, status(call.Operation, call.Table, call.Err)).Inc()
	c.Duration.WithLabelValues(call.Operation, call.Table).Observe(call.Duration.Seconds())
	if call.ConsumedCapacity > 0 {
		c.Capacity.WithLabelValues(call.Operation, call.Table).Add(call.ConsumedCapacity)
	}
}

// ObserveBatchRetry counts resubmitted batch requests. It matches
// batch.RetryHook.
func (c *Collector) ObserveBatchRetry(op, table string, unprocessed int) {
	c.BatchRetries.WithLabelValues(op, table).Add(float64(unprocessed))
}

// ObserveCancellation counts a cancelled transaction under its primary
// reason code. It matches transaction.CancelHook.
func (c *Collector) ObserveCancellation(reasons []customerrors.CancellationReason) {
	code := "Unknown"
	for _, r := range reasons {
		if r.Code != "" && r.Code != customerrors.CodeNone {
			code = r.Code
			break
		}
	}
	c.Cancellations.WithLabelValues(code).Inc()
}

// status classifies a raw client error.
func status(op, table string, err error) string {
	if err == nil {
		return StatusOK
	}
	err = customerrors.FromClient(op, table, err)
	switch {
	case customerrors.IsTransactionCancelled(err):
		return StatusCancelled
	case customerrors.IsConditionFailed(err):
		return StatusConditionFailed
	case customerrors.IsNotFound(err):
		return StatusNotFound
	default:
		return StatusError
	}
}
