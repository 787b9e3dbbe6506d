package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	collect(*strings.Builder)
}

// Registry renders registered collectors in the Prometheus text format.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if _, exists := r.collectors[item.name()]; exists {
			panic("metrics collector already registered: " + item.name())
		}
		r.collectors[item.name()] = item
	}
}

func (r *Registry) Render() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]collector, len(names))
	for i, name := range names {
		ordered[i] = r.collectors[name]
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range ordered {
		c.collect(&sb)
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

var Default = NewRegistry()
var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type Gauge struct {
	opts Opts
	mu   sync.Mutex
	v    float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string { return g.opts.Name }

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.v += v
	g.mu.Unlock()
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

func (g *Gauge) collect(sb *strings.Builder) {
	writeHeader(sb, g.opts, "gauge")
	writeSample(sb, g.opts.Name, "", g.Value())
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.Name }

func (g *GaugeFunc) collect(sb *strings.Builder) {
	var v float64
	if g.fn != nil {
		v = g.fn()
	}
	writeHeader(sb, g.opts, "gauge")
	writeSample(sb, g.opts.Name, "", v)
}

// CounterVec is a counter partitioned by a fixed set of labels.
type CounterVec struct {
	opts       Opts
	labelNames []string

	mu     sync.Mutex
	values map[string]float64
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{
		opts:       opts,
		labelNames: append([]string(nil), labelNames...),
		values:     map[string]float64{},
	}
}

func (c *CounterVec) name() string { return c.opts.Name }

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c, labelValues: values}
}

// Value reports the current count for one label combination.
func (c *CounterVec) Value(labelValues ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[strings.Join(labelValues, "\xff")]
}

func (c *CounterVec) add(labelValues []string, delta float64) {
	if len(labelValues) != len(c.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	c.mu.Lock()
	c.values[key] += delta
	c.mu.Unlock()
}

func (c *CounterVec) collect(sb *strings.Builder) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	snapshot := make(map[string]float64, len(keys))
	for _, key := range keys {
		snapshot[key] = c.values[key]
	}
	c.mu.Unlock()
	sort.Strings(keys)

	writeHeader(sb, c.opts, "counter")
	for _, key := range keys {
		writeSample(sb, c.opts.Name, formatLabels(c.labelNames, strings.Split(key, "\xff")), snapshot[key])
	}
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.add(c.labelValues, v)
}

func (c *Counter) Inc() { c.Add(1) }

func formatLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	pairs := make([]string, len(names))
	for i, n := range names {
		pairs[i] = n + `="` + escapeLabelValue(values[i]) + `"`
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func writeHeader(sb *strings.Builder, opts Opts, metricType string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", opts.Name, opts.Help, opts.Name, metricType)
}

func writeSample(sb *strings.Builder, name, labels string, v float64) {
	sb.WriteString(name)
	sb.WriteString(labels)
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	sb.WriteByte('\n')
}

func escapeLabelValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(v)
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{
			Name: "process_uptime_seconds",
			Help: "Seconds since process start.",
		}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{
			Name: "go_goroutines",
			Help: "Number of goroutines.",
		}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
	)
}
