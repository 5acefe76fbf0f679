// Package metrics provides the counter registry shared by the workers and the pull
// endpoint that exposes it.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a Prometheus registry and a pool of named counters. Every counter
// carries an "app" label so several workers can share one scrape target.
type Registry struct {
	registry *prometheus.Registry
	labels   prometheus.Labels

	mu       sync.Mutex
	counters map[string]prometheus.Counter
}

// NewRegistry creates a Registry whose counters are labelled with the given app name.
func NewRegistry(app string) *Registry {
	return &Registry{
		registry: prometheus.NewRegistry(),
		labels:   prometheus.Labels{"app": app},
		counters: make(map[string]prometheus.Counter),
	}
}

// Counter returns the counter registered under name, registering it first if needed.
// A nil Registry hands out unregistered counters so components can run without metrics.
func (r *Registry) Counter(name, help string) prometheus.Counter {
	if r == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: r.labels,
	})
	r.registry.MustRegister(c)
	r.counters[name] = c
	return c
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
