package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the sink a Cache reports hit/miss/evict/fetch counters
// through. Following Voskan-arena-cache's pkg/metrics.go metricsSink split,
// a no-op implementation is the default so instrumentation never costs
// anything until a caller opts in with WithMetrics.
//
// IncEvict is called once per entry that leaves the cache for good, whatever
// the cause. IncReinsert is part of the interface but Cache never calls it,
// so a PromMetrics reinsertions counter stays at zero.
type Metrics interface {
	IncHit()
	IncMiss()
	IncEvict()
	IncReinsert()
	IncFetchWait()
	IncFetchMiss()
	SetUsage(shards int, usage int64)
}

type noopMetrics struct{}

func (noopMetrics) IncHit()                     {}
func (noopMetrics) IncMiss()                    {}
func (noopMetrics) IncEvict()                   {}
func (noopMetrics) IncReinsert()                {}
func (noopMetrics) IncFetchWait()               {}
func (noopMetrics) IncFetchMiss()               {}
func (noopMetrics) SetUsage(int, int64)         {}

// PromMetrics is a prometheus-backed Metrics implementation. Register it
// with a prometheus.Registerer and pass it to WithMetrics.
type PromMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evictions  prometheus.Counter
	reinserts  prometheus.Counter
	fetchWait  prometheus.Counter
	fetchMiss  prometheus.Counter
	usageGauge prometheus.Gauge
}

// NewPromMetrics constructs and registers a PromMetrics under the given
// namespace/subsystem, following Voskan-arena-cache's newPromMetrics shape.
func NewPromMetrics(reg prometheus.Registerer, namespace, subsystem string) *PromMetrics {
	m := &PromMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "hits_total",
			Help: "Number of cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "misses_total",
			Help: "Number of cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "evictions_total",
			Help: "Number of entries released from the cache (evicted, removed, replaced or cleared).",
		}),
		reinserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "reinsertions_total",
			Help: "Number of evicted-but-referenced entries reinserted on release.",
		}),
		fetchWait: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "fetch_wait_total",
			Help: "Number of Fetch calls that joined an in-flight load.",
		}),
		fetchMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "fetch_miss_total",
			Help: "Number of Fetch calls that became the load leader.",
		}),
		usageGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "usage_bytes",
			Help: "Current accounted cache usage.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.reinserts, m.fetchWait, m.fetchMiss, m.usageGauge)
	return m
}

func (m *PromMetrics) IncHit()             { m.hits.Inc() }
func (m *PromMetrics) IncMiss()            { m.misses.Inc() }
func (m *PromMetrics) IncEvict()           { m.evictions.Inc() }
func (m *PromMetrics) IncReinsert()        { m.reinserts.Inc() }
func (m *PromMetrics) IncFetchWait()       { m.fetchWait.Inc() }
func (m *PromMetrics) IncFetchMiss()       { m.fetchMiss.Inc() }
func (m *PromMetrics) SetUsage(_ int, usage int64) {
	m.usageGauge.Set(float64(usage))
}

var _ Metrics = noopMetrics{}
var _ Metrics = (*PromMetrics)(nil)
