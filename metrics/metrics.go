// Package metrics exposes runtime activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/hostrt/config"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Metrics provides Prometheus metrics for a runtime context.
type Metrics struct {
	submissions    *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	commands       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	objects        *prometheus.GaugeVec
	recordedBytes  prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry. It returns nil when
// metrics are disabled.
func New(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Total number of command buffer submissions",
			},
			[]string{"queue", "status"},
		),
		submitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submit_duration_seconds",
				Help:      "Time spent issuing one submission to a backend queue",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"queue"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_issued_total",
				Help:      "Total number of commands issued to backends",
			},
			[]string{"command"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Total number of failed operations by error kind",
			},
			[]string{"kind"},
		),
		objects: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_objects",
				Help:      "Current number of live registry objects",
			},
			[]string{"type"},
		),
		recordedBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_buffer_bytes",
				Help:      "Size of submitted command buffers in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
	}

	registry.MustRegister(
		m.submissions,
		m.submitDuration,
		m.commands,
		m.failures,
		m.objects,
		m.recordedBytes,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSubmit records one submission of size bytes to a queue.
func (m *Metrics) RecordSubmit(queue string, size int, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
		m.RecordFailure(err)
	}
	m.submissions.WithLabelValues(queue, status).Inc()
	m.submitDuration.WithLabelValues(queue).Observe(d.Seconds())
	m.recordedBytes.Observe(float64(size))
}

// RecordCommand counts one issued command.
func (m *Metrics) RecordCommand(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

// RecordFailure counts err by its error kind.
func (m *Metrics) RecordFailure(err error) {
	if m == nil || err == nil {
		return
	}
	kind := string(errors.KindOf(err))
	if kind == "" {
		kind = "unclassified"
	}
	m.failures.WithLabelValues(kind).Inc()
}

// OnResourceEvent tracks live objects per type. Subscribe it to registry tables.
func (m *Metrics) OnResourceEvent(e resource.Event) {
	if m == nil {
		return
	}
	g := m.objects.WithLabelValues(e.Type.String())
	switch e.Kind {
	case resource.EventCreated:
		g.Inc()
	case resource.EventDropped:
		g.Dec()
	}
}
