package optimizer

import (
	"context"

	"github.com/deeplooplabs/perfopt/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the optimizer
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge
	RenderPercent  prometheus.Gauge
	HeapPercent    prometheus.Gauge
	MemoryState    *prometheus.GaugeVec
	CleanupTotal   *prometheus.CounterVec
	Transforms     *prometheus.CounterVec
	Requests       prometheus.Counter
}

// NewMetrics creates the optimizer collectors and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "perfopt"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of capacity evictions",
			},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of entries currently cached",
			},
		),
		RenderPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_render_percent",
				Help:      "Resident memory as a percentage of the memory limit",
			},
		),
		HeapPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_heap_percent",
				Help:      "Heap in use as a percentage of heap obtained from the OS",
			},
		),
		MemoryState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_state",
				Help:      "1 for the current memory pressure state, 0 otherwise",
			},
			[]string{"state"},
		),
		CleanupTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_cleanup_total",
				Help:      "Total number of memory cleanup tiers run",
			},
			[]string{"tier"},
		),
		Transforms: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transforms_total",
				Help:      "Total number of response transforms applied",
			},
			[]string{"kind"}, // kind: paginate, redact
		),
		Requests: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests seen by the middleware",
			},
		),
	}
}

var memoryStates = []memory.State{
	memory.Healthy,
	memory.HeapPressure,
	memory.Elevated,
	memory.Reclaim,
	memory.Emergency,
	memory.Critical,
}

// The observe helpers are no-ops on a nil *Metrics so callers need no checks.

func (m *Metrics) observeLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) observeEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) observeCacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) observeMemory(snap memory.Snapshot, state memory.State) {
	if m == nil {
		return
	}
	m.RenderPercent.Set(snap.RenderPercent)
	m.HeapPercent.Set(snap.HeapPercent)
	for _, s := range memoryStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.MemoryState.WithLabelValues(s.String()).Set(value)
	}
}

func (m *Metrics) observeTransform(kind string) {
	if m == nil {
		return
	}
	m.Transforms.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeRequest() {
	if m == nil {
		return
	}
	m.Requests.Inc()
}

// metricsHook counts cleanup tiers
type metricsHook struct {
	metrics *Metrics
}

func (h *metricsHook) Name() string {
	return "metrics"
}

func (h *metricsHook) OnTier(ctx context.Context, tier string) {
	h.metrics.CleanupTotal.WithLabelValues(tier).Inc()
}
