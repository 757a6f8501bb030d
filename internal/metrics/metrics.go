// Package metrics exposes step run metrics as Prometheus collectors.
//
// Each Recorder owns its registry so tests and concurrent pipelines never
// share counters. Batch runs are short-lived, so instead of being scraped the
// registry is pushed to a Pushgateway when one is configured.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder collects step metrics.
type Recorder struct {
	registry *prometheus.Registry

	StepMetricTotal *prometheus.CounterVec
	StepRunsTotal   *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
}

// New creates a Recorder with its collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		StepMetricTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_step_metric_total",
				Help: "Named counters incremented by step business logic",
			},
			[]string{"step", "metric"},
		),
		StepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_step_runs_total",
				Help: "Total number of step runs by final status",
			},
			[]string{"step", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "disburse_step_duration_seconds",
				Help:    "Duration of step runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
	}
	r.registry.MustRegister(r.StepMetricTotal, r.StepRunsTotal, r.StepDuration)
	return r
}

// Registry returns the registry holding every collector.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Add increments metric of step by n. Non-positive n is ignored.
func (r *Recorder) Add(step, metric string, n int64) {
	if n <= 0 {
		return
	}
	r.StepMetricTotal.WithLabelValues(step, metric).Add(float64(n))
}

// ObserveRun records the outcome and duration of one step run.
func (r *Recorder) ObserveRun(step, status string, d time.Duration) {
	r.StepRunsTotal.WithLabelValues(step, status).Inc()
	r.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// Push sends every collector to the Pushgateway at url under job. An empty
// url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
