// Package metrics exports run activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/workflow"
)

const namespace = "agentx"

// Metrics holds the collectors of one server. Each instance owns a private
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	frames        *prometheus.CounterVec
	replacements  prometheus.Counter
	rejected      prometheus.Counter
}

var _ workflow.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by final phase.",
		}, []string{"phase"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "runs_active",
			Help:      "Pipeline runs currently executing.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "frames_total",
			Help:      "Frames emitted on run event streams by action.",
		}, []string{"action"}),
		replacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "replacements_total",
			Help:      "Sandboxes recreated because the recorded one was unreachable.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "runs_rejected_total",
			Help:      "Chat requests abandoned while waiting for a run slot.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.runsActive, m.stageDuration, m.frames, m.replacements, m.rejected,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted increments the active run gauge. Pair with RunFinished.
func (m *Metrics) RunStarted() { m.runsActive.Inc() }

func (m *Metrics) RunFinished(phase workflow.Phase, d time.Duration) {
	m.runsActive.Dec()
	m.runs.WithLabelValues(string(phase)).Inc()
	m.runDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

func (m *Metrics) StageFinished(stage string, ok bool, d time.Duration) {
	status := "ok"
	if !ok {
		status = "escalated"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) SandboxReplaced() { m.replacements.Inc() }

// RunRejected counts a chat request that gave up waiting for capacity.
func (m *Metrics) RunRejected() { m.rejected.Inc() }

// FrameSink counts frames by action. It never fails.
func (m *Metrics) FrameSink() events.Sink {
	return events.SinkFunc(func(_ context.Context, f events.Frame) error {
		m.frames.WithLabelValues(string(f.Action)).Inc()
		return nil
	})
}
