package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type base struct {
	name string
	help string
	typ  Type
}

func (b *base) Name() string { return b.name }
func (b *base) Help() string { return b.help }
func (b *base) Type() Type   { return b.typ }

func (b *base) header() string {
	return fmt.Sprintf("# HELP %s %s\n# TYPE %s %s\n", b.name, b.help, b.name, b.typ)
}

// atomicFloat stores a float64 behind atomic bit operations.
type atomicFloat struct {
	bits uint64
}

func (f *atomicFloat) add(v float64) {
	for {
		old := atomic.LoadUint64(&f.bits)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&f.bits, old, next) {
			return
		}
	}
}

func (f *atomicFloat) set(v float64) {
	atomic.StoreUint64(&f.bits, math.Float64bits(v))
}

func (f *atomicFloat) get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&f.bits))
}

type counter struct {
	base
	val atomicFloat
}

// NewCounter creates a new Counter with the given name and help text.
func NewCounter(name, help string) Counter {
	return &counter{base: base{name: name, help: help, typ: TypeCounter}}
}

func (c *counter) Inc() { c.Add(1) }

func (c *counter) Add(v float64) {
	if v < 0 {
		return
	}
	c.val.add(v)
}

func (c *counter) Get() float64 { return c.val.get() }

func (c *counter) Describe() string {
	return c.header() + fmt.Sprintf("%s %.6f\n", c.name, c.Get())
}

type gauge struct {
	base
	val atomicFloat
}

// NewGauge creates a new Gauge with the given name and help text.
func NewGauge(name, help string) Gauge {
	return &gauge{base: base{name: name, help: help, typ: TypeGauge}}
}

func (g *gauge) Set(v float64) { g.val.set(v) }
func (g *gauge) Inc()          { g.val.add(1) }
func (g *gauge) Dec()          { g.val.add(-1) }
func (g *gauge) Add(v float64) { g.val.add(v) }
func (g *gauge) Get() float64  { return g.val.get() }

func (g *gauge) Describe() string {
	return g.header() + fmt.Sprintf("%s %.6f\n", g.name, g.Get())
}

type histogram struct {
	base
	buckets []float64
	counts  []uint64
	sum     atomicFloat
	count   uint64
	mu      sync.Mutex
}

// DefBuckets are the default histogram buckets, in seconds.
var DefBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewHistogram creates a new Histogram with the given bucket upper bounds.
// Nil buckets fall back to DefBuckets.
func NewHistogram(name, help string, buckets []float64) Histogram {
	if len(buckets) == 0 {
		buckets = DefBuckets
	}
	buckets = append([]float64(nil), buckets...)
	sort.Float64s(buckets)
	return &histogram{
		base:    base{name: name, help: help, typ: TypeHistogram},
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddUint64(&h.count, 1)
	h.sum.add(v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Count() uint64 { return atomic.LoadUint64(&h.count) }
func (h *histogram) Sum() float64  { return h.sum.get() }

func (h *histogram) Describe() string {
	var sb strings.Builder
	sb.WriteString(h.header())

	h.mu.Lock()
	for i, bound := range h.buckets {
		sb.WriteString(fmt.Sprintf("%s_bucket{le=%q} %d\n", h.name, fmt.Sprintf("%.6g", bound), h.counts[i]))
	}
	h.mu.Unlock()

	sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", h.name, h.Count()))
	sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", h.name, h.Sum()))
	sb.WriteString(fmt.Sprintf("%s_count %d\n", h.name, h.Count()))
	return sb.String()
}

func labelKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("%s{%s}", name, strings.Join(pairs, ","))
}

type counterVec struct {
	base
	children sync.Map // map[string]*counter
}

// NewCounterVec creates a labeled family of counters.
func NewCounterVec(name, help string) CounterVec {
	return &counterVec{base: base{name: name, help: help, typ: TypeCounter}}
}

func (v *counterVec) With(labels map[string]string) Counter {
	key := labelKey(v.name, labels)
	if c, ok := v.children.Load(key); ok {
		return c.(*counter)
	}
	c := &counter{base: base{name: key, help: v.help, typ: TypeCounter}}
	actual, _ := v.children.LoadOrStore(key, c)
	return actual.(*counter)
}

func (v *counterVec) Describe() string {
	var sb strings.Builder
	sb.WriteString(v.header())

	var keys []string
	v.children.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)

	for _, key := range keys {
		if c, ok := v.children.Load(key); ok {
			sb.WriteString(fmt.Sprintf("%s %.6f\n", key, c.(*counter).Get()))
		}
	}
	return sb.String()
}

type histogramVec struct {
	base
	buckets  []float64
	children sync.Map // map[string]*histogram
}

// NewHistogramVec creates a labeled family of histograms sharing buckets.
func NewHistogramVec(name, help string, buckets []float64) HistogramVec {
	if len(buckets) == 0 {
		buckets = DefBuckets
	}
	buckets = append([]float64(nil), buckets...)
	sort.Float64s(buckets)
	return &histogramVec{
		base:    base{name: name, help: help, typ: TypeHistogram},
		buckets: buckets,
	}
}

func (v *histogramVec) With(labels map[string]string) Histogram {
	key := labelKey(v.name, labels)
	if h, ok := v.children.Load(key); ok {
		return h.(*histogram)
	}
	h := &histogram{
		base:    base{name: key, help: v.help, typ: TypeHistogram},
		buckets: v.buckets,
		counts:  make([]uint64, len(v.buckets)),
	}
	actual, _ := v.children.LoadOrStore(key, h)
	return actual.(*histogram)
}

func (v *histogramVec) Describe() string {
	var sb strings.Builder
	sb.WriteString(v.header())

	var keys []string
	v.children.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)

	for _, key := range keys {
		if h, ok := v.children.Load(key); ok {
			child := h.(*histogram)
			// The child key is "name{k=\"v\"}"; bucket lines splice le
			// into the same label set.
			labels := ""
			if i := strings.IndexByte(key, '{'); i >= 0 {
				labels = strings.TrimSuffix(key[i+1:], "}") + ","
			}
			child.mu.Lock()
			for i, bound := range child.buckets {
				sb.WriteString(fmt.Sprintf("%s_bucket{%sle=%q} %d\n", v.name, labels, fmt.Sprintf("%.6g", bound), child.counts[i]))
			}
			child.mu.Unlock()
			sb.WriteString(fmt.Sprintf("%s_bucket{%sle=\"+Inf\"} %d\n", v.name, labels, child.Count()))
			sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", key, child.Sum()))
			sb.WriteString(fmt.Sprintf("%s_count %d\n", key, child.Count()))
		}
	}
	return sb.String()
}
