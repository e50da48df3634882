package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/hostprep/pkg/engine"
)

const namespace = "hostprep"

// Metrics records provisioning outcomes in a Prometheus registry.
//
// hostprep is a one-shot command, so nothing is served over HTTP. The
// registry is written once per run in the text exposition format, ready for
// the node_exporter textfile collector.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Gauge
	runFailed      prometheus.Gauge
	lastRun        prometheus.Gauge
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Actions evaluated, by final status",
			},
			[]string{"action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Wall time spent on each action in seconds",
				Buckets:   []float64{0.1, 1, 10, 60, 300, 900, 1800, 3600},
			},
			[]string{"action"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Provisioning runs, by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run in seconds",
		}),
		runFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_failed_actions",
			Help:      "Number of failed actions in the last run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run completed",
		}),
	}

	m.registry.MustRegister(
		m.actionsTotal,
		m.actionDuration,
		m.runsTotal,
		m.runDuration,
		m.runFailed,
		m.lastRun,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Publish implements engine.EventPublisher.
func (m *Metrics) Publish(_ context.Context, event *engine.Event) error {
	switch event.Type {
	case engine.EventTypeActionSkipped, engine.EventTypeActionSucceeded, engine.EventTypeActionFailed:
		r := event.Result
		if r == nil {
			return nil
		}
		m.actionsTotal.WithLabelValues(r.ActionID, string(r.Status)).Inc()
		if r.Status != engine.ActionStatusSkipped {
			m.actionDuration.WithLabelValues(r.ActionID).Observe(r.Duration.Seconds())
		}
	case engine.EventTypeRunCompleted:
		run := event.Run
		if run == nil {
			return nil
		}
		m.runsTotal.WithLabelValues(string(run.Status)).Inc()
		m.runDuration.Set(run.Duration.Seconds())
		m.runFailed.Set(float64(run.Summary.Failed))
		m.lastRun.Set(float64(event.Timestamp.Unix()))
	}
	return nil
}

// WriteTextfile writes the registry to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
