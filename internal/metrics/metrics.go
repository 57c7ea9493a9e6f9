// Package metrics provides Prometheus-compatible metrics for checkind.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Labels are static metric labels.
type Labels map[string]string

func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, l[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by v.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down. When fn is set the gauge is
// read-through: every scrape calls fn.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
	fn     func() float64
}

// Set sets the gauge value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Inc increments the gauge by one.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by one.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	if g.fn != nil {
		return g.fn()
	}
	return float64(g.value.Load())
}

// Registry holds named metrics and renders them.
type Registry struct {
	namespace string

	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	order    []string
}

// NewRegistry creates a registry. The namespace prefixes every metric
// name.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// RegisterCounter registers (or returns the existing) counter.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	full := r.fullName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: full, help: help, labels: labels}
	r.counters[full] = c
	r.order = append(r.order, full)
	return c
}

// RegisterGauge registers (or returns the existing) gauge.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	full := r.fullName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: full, help: help, labels: labels}
	r.gauges[full] = g
	r.order = append(r.order, full)
	return g
}

// RegisterGaugeFunc registers a gauge whose value is computed on every
// scrape. Used to surface live state (queue depth, connectivity)
// without the owner pushing updates.
func (r *Registry) RegisterGaugeFunc(name, help string, labels Labels, fn func() float64) *Gauge {
	full := r.fullName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: full, help: help, labels: labels, fn: fn}
	r.gauges[full] = g
	r.order = append(r.order, full)
	return g
}

// WritePrometheus renders all metrics in the Prometheus text format.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if c, ok := r.counters[name]; ok {
			fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(w, "%s%s %d\n", c.name, c.labels, c.Value())
			continue
		}
		if g, ok := r.gauges[name]; ok {
			fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(w, "%s%s %g\n", g.name, g.labels, g.Value())
		}
	}
	return nil
}

// HTTPHandler returns a scrape endpoint handler.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// Default returns the default registry.
func Default() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry("checkind")
	})
	return defaultRegistry
}

// SetDefault sets the default registry.
func SetDefault(r *Registry) {
	defaultRegistry = r
}
