package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

// SyncMetrics counts pipeline steps and catalogue imports. It satisfies the
// use-case observer interfaces.
type SyncMetrics struct {
	service string

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	importsTotal *prometheus.CounterVec
}

func NewSyncMetrics(service string, registerer prometheus.Registerer) *SyncMetrics {
	stepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "registry_pushes_total",
			Help:      "Total registry operations by pipeline step and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "step_duration_seconds",
			Help:      "Registry operation duration in seconds by pipeline step.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)
	importsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "import_items_total",
			Help:      "Total catalogue items processed by source and outcome.",
		},
		[]string{"service", "source", "outcome"},
	)

	registerer.MustRegister(stepsTotal, stepDuration, importsTotal)

	return &SyncMetrics{
		service:      service,
		stepsTotal:   stepsTotal,
		stepDuration: stepDuration,
		importsTotal: importsTotal,
	}
}

func (m *SyncMetrics) ObserveStep(operation string, outcome domain.StepOutcome, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	m.stepsTotal.WithLabelValues(m.service, operation, string(outcome)).Inc()
	m.stepDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
}

func (m *SyncMetrics) ObserveImport(source string, outcome domain.ImportOutcome) {
	if source == "" {
		source = "unknown"
	}
	m.importsTotal.WithLabelValues(m.service, source, string(outcome)).Inc()
}
