// Package metrics exposes Prometheus collectors for fixture reloads and hook
// calls on a private registry.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allyourbase/seedcache/internal/orchestrator"
)

const namespace = "seedcache"

// Metrics holds the collectors. It implements orchestrator.Observer.
type Metrics struct {
	registry *prom.Registry
	reloads  *prom.CounterVec
	duration *prom.HistogramVec
	hooks    *prom.CounterVec
}

var _ orchestrator.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		reloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Fixture reloads by outcome (reloaded, restored, created).",
		}, []string{"outcome"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "reload_duration_seconds",
			Help:      "Time spent bringing the database to the fixture state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		hooks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hook_calls_total",
			Help:      "Lifecycle hook calls by hook and result.",
		}, []string{"hook", "result"}),
	}
	m.registry.MustRegister(
		m.reloads,
		m.duration,
		m.hooks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveReload records one reload.
func (m *Metrics) ObserveReload(outcome orchestrator.Outcome, d time.Duration) {
	m.reloads.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// ObserveHook records one hook call; err decides the result label.
func (m *Metrics) ObserveHook(hook string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.hooks.WithLabelValues(hook, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
