// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly so the service does not carry
// client_golang for a handful of counters.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges and histograms.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Labels renders key/value pairs as a Prometheus label set body, in the
// order given: Labels("platform", "WhatsApp") -> platform="WhatsApp".
func Labels(kv ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", kv[i], kv[i+1])
	}
	return sb.String()
}

// Counter returns or creates the counter for name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge for name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram for name and labels.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	hb := make([]histBucket, len(bs))
	for i, b := range bs {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// sortedValues returns the map's values ordered by key so output is stable.
func sortedValues(m *sync.Map) []any {
	var keys []string
	vals := map[string]any{}
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

func writeSample(sb *strings.Builder, name, labels string, v int64) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %d\n", name, labels, v)
	} else {
		fmt.Fprintf(sb, "%s %d\n", name, v)
	}
}

// Handler renders all metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP callcenter_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE callcenter_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "callcenter_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		for _, v := range sortedValues(&c.counters) {
			ctr := v.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", ctr.name, ctr.help, ctr.name)
				helpWritten[ctr.name] = true
			}
			writeSample(&sb, ctr.name, ctr.labels, ctr.Value())
		}

		for _, v := range sortedValues(&c.gauges) {
			g := v.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
				helpWritten[g.name] = true
			}
			writeSample(&sb, g.name, g.labels, g.Value())
		}

		for _, v := range sortedValues(&c.histograms) {
			h := v.(*Histogram)
			h.mu.Lock()
			if !helpWritten[h.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
				helpWritten[h.name] = true
			}
			sep := ""
			if h.labels != "" {
				sep = ","
			}
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{%s%sle=\"%s\"} %d\n", h.name, h.labels, sep, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_bucket{%s%sle=\"+Inf\"} %d\n", h.name, h.labels, sep, h.count)
			writeSample(&sb, h.name+"_count", h.labels, h.count)
			if h.labels != "" {
				fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
			} else {
				fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			}
			h.mu.Unlock()
		}

		fmt.Fprint(w, sb.String())
	}
}

// --- Metrics used across the service ---

var (
	MessagesDuplicate = Collector.Counter("callcenter_messages_duplicate_total", "Deliveries acknowledged as duplicates", "")
	RoutingFallbacks  = Collector.Counter("callcenter_routing_degraded_total", "Routing lookups that fell back to the default agent", "")
	StatusUpdates     = Collector.Counter("callcenter_status_updates_total", "Delivery status updates applied", "")
	EscalationsTotal  = Collector.Counter("callcenter_escalations_total", "Escalations created", "")
	ActiveRecords     = Collector.Gauge("callcenter_records_in_flight", "Record calls currently holding a conversation lock", "")

	RecordLatency = Collector.Histogram("callcenter_record_latency_seconds", "Time to record one message", "",
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5})
)

// MessagesRecorded counts stored messages per platform and direction.
func MessagesRecorded(platform, direction string) *Counter {
	return Collector.Counter("callcenter_messages_recorded_total", "Messages stored",
		Labels("platform", platform, "direction", direction))
}

// WebhookRequests counts webhook deliveries by object type and outcome.
func WebhookRequests(object, outcome string) *Counter {
	return Collector.Counter("callcenter_webhook_requests_total", "Webhook deliveries received",
		Labels("object", object, "outcome", outcome))
}

// OutboundSends counts outbound sends per platform and result.
func OutboundSends(platform, result string) *Counter {
	return Collector.Counter("callcenter_outbound_sends_total", "Outbound messages sent through platform APIs",
		Labels("platform", platform, "result", result))
}
