package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the telemetry worker's view-event pipeline.
type WorkerMetrics struct {
	registry *prometheus.Registry

	viewsProcessed     *prometheus.CounterVec
	processingDuration prometheus.Histogram
}

func NewWorkerMetrics() *WorkerMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &WorkerMetrics{
		registry: registry,
		viewsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "views_processed_total",
			Help:      "View events processed by outcome.",
		}, []string{"outcome"}),
		processingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "view_processing_duration_seconds",
			Help:      "Per-event persistence latency.",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 1, 2.5},
		}),
	}

	registry.MustRegister(m.viewsProcessed, m.processingDuration)
	return m
}

func (m *WorkerMetrics) ObserveView(outcome string, elapsed time.Duration) {
	m.viewsProcessed.WithLabelValues(outcome).Inc()
	m.processingDuration.Observe(elapsed.Seconds())
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
