package observability

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Exporter renders a Registry in the Prometheus text exposition format.
type Exporter struct {
	registry *Registry
}

func NewExporter(registry *Registry) *Exporter {
	return &Exporter{registry: registry}
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprint(w, e.Format())
}

// Format writes every family with HELP and TYPE headers followed by one
// sample line per labeled series.
func (e *Exporter) Format() string {
	e.registry.mu.RLock()
	counters := collect(e.registry.counters, func(c *Counter) series {
		return series{name: c.name, help: c.help, labels: c.labels, value: c.Value()}
	})
	gauges := collect(e.registry.gauges, func(g *Gauge) series {
		return series{name: g.name, help: g.help, labels: g.labels, value: g.Value()}
	})
	histograms := make([]*Histogram, 0, len(e.registry.histograms))
	for _, h := range e.registry.histograms {
		histograms = append(histograms, h)
	}
	e.registry.mu.RUnlock()

	var b strings.Builder
	writeFamilies(&b, counters, MetricCounter)
	writeFamilies(&b, gauges, MetricGauge)
	writeHistograms(&b, histograms)
	return b.String()
}

type series struct {
	name   string
	help   string
	labels map[string]string
	value  float64
}

func collect[M any](m map[string]M, snap func(M) series) []series {
	out := make([]series, 0, len(m))
	for _, v := range m {
		out = append(out, snap(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return formatLabels(out[i].labels) < formatLabels(out[j].labels)
	})
	return out
}

func writeFamilies(b *strings.Builder, all []series, typ MetricType) {
	prev := ""
	for _, s := range all {
		if s.name != prev {
			fmt.Fprintf(b, "# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(b, "# TYPE %s %s\n", s.name, typ)
			prev = s.name
		}
		fmt.Fprintf(b, "%s%s %s\n", s.name, formatLabels(s.labels), formatFloat(s.value))
	}
}

func writeHistograms(b *strings.Builder, all []*Histogram) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		return formatLabels(all[i].labels) < formatLabels(all[j].labels)
	})
	prev := ""
	for _, h := range all {
		buckets, counts, sum, count := h.snapshot()
		if h.name != prev {
			fmt.Fprintf(b, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(b, "# TYPE %s histogram\n", h.name)
			prev = h.name
		}
		for i, upper := range buckets {
			fmt.Fprintf(b, "%s_bucket%s %d\n",
				h.name, withLabel(h.labels, "le", formatFloat(upper)), counts[i])
		}
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, withLabel(h.labels, "le", "+Inf"), count)
		fmt.Fprintf(b, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(sum))
		fmt.Fprintf(b, "%s_count%s %d\n", h.name, formatLabels(h.labels), count)
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// withLabel renders labels with one extra pair appended, as the histogram
// bucket lines need for le.
func withLabel(labels map[string]string, key, value string) string {
	merged := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		merged[k] = v
	}
	merged[key] = value
	return formatLabels(merged)
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	if math.IsInf(v, -1) {
		return "-Inf"
	}
	if math.IsNaN(v) {
		return "NaN"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
