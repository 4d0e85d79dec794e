package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the service collectors. All names carry the "proin_" prefix.
//
//   - proin_operations_total{operation,outcome}
//   - proin_operation_duration_seconds{operation}
//   - proin_uploads_total{outcome}
//   - proin_notifications_total{kind,outcome}
//   - proin_events_published_total{subject,outcome}
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	UploadsTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
}

// New registers the collectors with the default registry once per process.
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			OperationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proin_operations_total",
					Help: "Total number of coordinator operations by outcome",
				},
				[]string{"operation", "outcome"},
			),
			OperationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "proin_operation_duration_seconds",
					Help:    "Duration of coordinator operations in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
				},
				[]string{"operation"},
			),
			UploadsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proin_uploads_total",
					Help: "Total number of object storage uploads by outcome",
				},
				[]string{"outcome"},
			),
			NotificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proin_notifications_total",
					Help: "Total number of email notifications by kind and outcome",
				},
				[]string{"kind", "outcome"},
			),
			EventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proin_events_published_total",
					Help: "Total number of domain events published by subject and outcome",
				},
				[]string{"subject", "outcome"},
			),
		}
	})
	return globalMetrics
}

// Observe records one operation. A nil receiver is a no-op.
func (m *Metrics) Observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, Outcome(err)).Inc()
}

func (m *Metrics) Event(subject string, err error) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(subject, Outcome(err)).Inc()
}

func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
