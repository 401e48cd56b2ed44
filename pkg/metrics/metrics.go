// Package metrics provides the lightweight metric primitives backing the
// stats instrumentation module.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Type represents the type of a metric.
type Type string

// Supported metric types.
const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
)

// Metric is the base interface for all metrics.
type Metric interface {
	Name() string
	Help() string
	Type() Type
	// Describe returns the metric in Prometheus text format.
	Describe() string
}

// Counter is a monotonically increasing value.
type Counter interface {
	Metric
	Inc()
	Add(float64)
	Get() float64
}

// Gauge is a value that can go up and down.
type Gauge interface {
	Metric
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Get() float64
}

// Histogram samples observations into configurable buckets.
type Histogram interface {
	Metric
	Observe(float64)
	Count() uint64
	Sum() float64
}

// CounterVec is a collection of counters sharing a name, split by labels.
type CounterVec interface {
	Metric
	With(labels map[string]string) Counter
}

// HistogramVec is a collection of histograms sharing a name, split by labels.
type HistogramVec interface {
	Metric
	With(labels map[string]string) Histogram
}

// Registry manages a collection of metrics.
type Registry struct {
	metrics sync.Map // map[string]Metric
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// defaultRegistry is the lazily-initialized process-wide registry.
var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register registers m, replacing any metric with the same name.
func (r *Registry) Register(m Metric) {
	r.metrics.Store(m.Name(), m)
}

// Get returns the metric registered under name.
func (r *Registry) Get(name string) (Metric, bool) {
	v, ok := r.metrics.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Metric), true
}

// GetOrRegister returns the metric registered under name, registering the
// one produced by create when the name is free. Concurrent callers racing on
// the same name all receive the instrument that won the store.
func (r *Registry) GetOrRegister(name string, create func() Metric) Metric {
	if v, ok := r.metrics.Load(name); ok {
		return v.(Metric)
	}
	v, _ := r.metrics.LoadOrStore(name, create())
	return v.(Metric)
}

// Export returns every registered metric in Prometheus text format, sorted
// by name.
func (r *Registry) Export() string {
	var names []string
	r.metrics.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		if m, ok := r.Get(name); ok {
			sb.WriteString(m.Describe())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Unregister removes the metric registered under name.
func (r *Registry) Unregister(name string) {
	r.metrics.Delete(name)
}
