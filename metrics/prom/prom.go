package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/swipedeck/store"
)

// Adapter implements store.Metrics on Prometheus counters and gauges.
// Safe for concurrent use.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	packs    prometheus.Counter
	entries  prometheus.Gauge
	memBytes prometheus.Gauge
}

// New registers the candidate-store metrics.
//   - reg:         registry to register with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     namespace and subsystem
//   - constLabels: static labels on every metric (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:   counter("hits_total", "Candidate lookups served from the store"),
		misses: counter("misses_total", "Candidate lookups that would need a re-fetch"),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evictions_total",
			Help: "Candidates evicted, by reason", ConstLabels: constLabels,
		}, []string{"reason"}),
		packs:    counter("compressions_total", "Idle candidates re-encoded compressed"),
		entries:  gauge("size_entries", "Resident candidates"),
		memBytes: gauge("memory_bytes", "Estimated resident footprint in bytes"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.packs, a.entries, a.memBytes)
	return a
}

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict counts an eviction under its reason label.
func (a *Adapter) Evict(r store.EvictReason) { a.evicts.WithLabelValues(r.String()).Inc() }

func (a *Adapter) Compress() { a.packs.Inc() }

// Size updates the entry and byte gauges.
func (a *Adapter) Size(entries int, bytes int64) {
	a.entries.Set(float64(entries))
	a.memBytes.Set(float64(bytes))
}

var _ store.Metrics = (*Adapter)(nil)
