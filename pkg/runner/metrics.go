package runner

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks sweep progress for the optional Prometheus endpoint.
type Metrics struct {
	registry *prometheus.Registry

	planned   prometheus.Gauge
	completed prometheus.Gauge
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	retries   prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics builds the sweep collectors on a private registry so repeated
// sweeps in one process never collide on registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		planned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_sweep_runs_planned",
			Help: "Number of experiments in the expanded matrix.",
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_sweep_runs_completed",
			Help: "Experiments with a terminal outcome so far.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_sweep_runs_total",
			Help: "Finished experiments by status.",
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_sweep_run_failures_total",
			Help: "Exhausted experiments by failure reason.",
		}, []string{"reason"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_sweep_run_retries_total",
			Help: "Retry attempts across all experiments.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_sweep_run_duration_seconds",
			Help:    "Wall-clock duration of individual benchmark invocations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
	}

	registry.MustRegister(
		m.planned,
		m.completed,
		m.runs,
		m.failures,
		m.retries,
		m.duration,
	)
	return m
}

// Registry exposes the collectors for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
