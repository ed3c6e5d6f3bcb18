// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package taskrunner

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hostops_taskrunner"

// Collector is a prometheus.Collector that collects metrics about task
// runs.
type Collector struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		started: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_started",
				Help:      "The number of task runs started.",
			},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_finished",
				Help:      "The number of task runs finished, by terminal status.",
			}, []string{"status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "The time taken for a task to reach a terminal state.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.started.Describe(ch)
	c.finished.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.started.Collect(ch)
	c.finished.Collect(ch)
	c.duration.Collect(ch)
}
