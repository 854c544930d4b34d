package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

const namespace = "pidsync"

type WorkerMetrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	harvestTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sync_runs_total",
			Help:      "Total sync pipeline runs by final state.",
		},
		[]string{"service", "state"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sync_run_duration_seconds",
			Help:      "Sync pipeline run duration in seconds by final state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "state"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sync_runs_in_flight",
			Help:      "Number of in-flight sync pipeline runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a task becoming due and its run starting.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	harvestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "harvest_runs_total",
			Help:      "Total scheduled catalogue harvests by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(runsTotal, runDuration, runsInFlight, queueLag, harvestTotal)

	return &WorkerMetrics{
		registry:     registry,
		runsTotal:    runsTotal,
		runDuration:  runDuration,
		runsInFlight: runsInFlight,
		queueLag:     queueLag,
		harvestTotal: harvestTotal,
	}
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRun() {
	m.runsInFlight.Inc()
}

// FinishRun records the final state; a nil report counts as failed.
func (m *WorkerMetrics) FinishRun(service string, duration time.Duration, report *domain.SyncReport) {
	m.runsInFlight.Dec()

	state := string(domain.SyncStateFailed)
	if report != nil && report.State != "" {
		state = string(report.State)
	}

	m.runsTotal.WithLabelValues(service, state).Inc()
	m.runDuration.WithLabelValues(service, state).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordHarvest(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.harvestTotal.WithLabelValues(service, status).Inc()
}
