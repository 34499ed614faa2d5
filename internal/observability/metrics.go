// Package observability carries the engine's self-instrumentation: a small
// metric registry with a Prometheus text exporter and a component health
// monitor, all served from the control-plane mux.
package observability

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing value. It stores int64 thousandths
// so fractional adds stay lock-free on the atomic.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1000) }

// Add increments by delta. Negative deltas are ignored; counters only go up.
func (c *Counter) Add(delta float64) {
	if delta <= 0 {
		return
	}
	c.value.Add(int64(delta*1000 + 0.5))
}

func (c *Counter) Value() float64 {
	return float64(c.value.Load()) / 1000
}

// Gauge is a value that moves both ways.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram tracks a distribution in cumulative buckets. counts[i] holds the
// number of observations <= buckets[i].
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Quantile estimates the q-th percentile (0..1) by linear interpolation
// within the bucket the target rank lands in.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || q < 0 || q > 1 {
		return 0
	}
	target := q * float64(h.count)

	for i, b := range h.buckets {
		cum := float64(h.counts[i])
		if cum < target {
			continue
		}
		var lower, prev float64
		if i > 0 {
			lower = h.buckets[i-1]
			prev = float64(h.counts[i-1])
		}
		inBucket := cum - prev
		if inBucket == 0 {
			return b
		}
		return lower + (target-prev)/inBucket*(b-lower)
	}
	if len(h.buckets) > 0 {
		return h.buckets[len(h.buckets)-1]
	}
	return 0
}

// snapshot returns copies for the exporter.
func (h *Histogram) snapshot() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := make([]float64, len(h.buckets))
	c := make([]int64, len(h.counts))
	copy(b, h.buckets)
	copy(c, h.counts)
	return b, c, h.sum, h.count
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds every instrument. Series are keyed by name plus label set,
// so one metric family can carry several labeled series.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// NewCounter registers a counter series, returning the existing one when the
// same name and labels were registered before.
func (r *Registry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seriesKey(name, labels)
	if existing, ok := r.counters[key]; ok {
		return existing
	}
	c := &Counter{name: name, help: help, labels: copyLabels(labels)}
	r.counters[key] = c
	return c
}

func (r *Registry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seriesKey(name, labels)
	if existing, ok := r.gauges[key]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help, labels: copyLabels(labels)}
	r.gauges[key] = g
	return g
}

func (r *Registry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seriesKey(name, labels)
	if existing, ok := r.histograms[key]; ok {
		return existing
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  copyLabels(labels),
		buckets: sorted,
		counts:  make([]int64, len(sorted)),
	}
	r.histograms[key] = h
	return h
}

// DefaultLatencyBuckets covers submit-to-confirm latencies in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// ---------------------------------------------------------------------------
// Engine instrument set
// ---------------------------------------------------------------------------

// Metrics is the engine's pre-registered instrument set. Components expose
// plain Stats structs; the engine bridges them into these instruments.
type Metrics struct {
	Registry *Registry

	EventsIngested *Counter
	EventsDeduped  *Counter
	EventsDropped  *Counter
	WSReconnects   *Counter

	ActionsBuy  *Counter
	ActionsSell *Counter

	ExecFilled    *Counter
	ExecFailed    *Counter
	ExecDiscarded *Counter
	ExecRetries   *Counter

	BlockhashRefreshes *Counter

	TrackedTokens   *Gauge
	OpenPositions   *Gauge
	CandlesResident *Gauge
	WalletSOL       *Gauge

	ExecDuration *Histogram
}

func EngineMetrics() *Metrics {
	r := NewRegistry()
	return &Metrics{
		Registry: r,

		EventsIngested: r.NewCounter("vertex_events_ingested_total",
			"Decoded stream events accepted by the ingestor", nil),
		EventsDeduped: r.NewCounter("vertex_events_deduped_total",
			"Stream events dropped as redeliveries", nil),
		EventsDropped: r.NewCounter("vertex_events_dropped_total",
			"Events dropped on full tracker queues", nil),
		WSReconnects: r.NewCounter("vertex_ws_reconnects_total",
			"WebSocket stream reconnections", nil),

		ActionsBuy: r.NewCounter("vertex_actions_total",
			"Trade actions decided", map[string]string{"action": "buy"}),
		ActionsSell: r.NewCounter("vertex_actions_total",
			"Trade actions decided", map[string]string{"action": "sell"}),

		ExecFilled: r.NewCounter("vertex_executions_total",
			"Execution outcomes", map[string]string{"outcome": "filled"}),
		ExecFailed: r.NewCounter("vertex_executions_total",
			"Execution outcomes", map[string]string{"outcome": "failed"}),
		ExecDiscarded: r.NewCounter("vertex_executions_total",
			"Execution outcomes", map[string]string{"outcome": "discarded"}),
		ExecRetries: r.NewCounter("vertex_execution_retries_total",
			"Execution attempts retried", nil),

		BlockhashRefreshes: r.NewCounter("vertex_blockhash_refreshes_total",
			"Blockhash reference refreshes", nil),

		TrackedTokens: r.NewGauge("vertex_tracked_tokens",
			"Trackers resident in the registry", nil),
		OpenPositions: r.NewGauge("vertex_open_positions",
			"Tokens currently held", nil),
		CandlesResident: r.NewGauge("vertex_candles_resident",
			"Candles resident across all trackers", nil),
		WalletSOL: r.NewGauge("vertex_wallet_sol",
			"Wallet balance in SOL", nil),

		ExecDuration: r.NewHistogram("vertex_execution_duration_ms",
			"Intent-to-outcome latency in milliseconds", nil, DefaultLatencyBuckets),
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
