// Package metrics exposes the cache core's counters to Prometheus:
// hits, misses, inserts, deletes, stale servings, and backend error
// counts. Host-level metrics (CPU, memory, query rates) are the
// resolver process's business, not the cache handle's, so nothing
// here samples the host.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector wraps the Prometheus series this package registers. A nil
// *Collector is valid and every method on it is a no-op, so callers
// that don't care about metrics can pass nil into cache.Open.
type Collector struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	inserts   prometheus.Counter
	deletes   prometheus.Counter
	staleHits prometheus.Counter
	backendErrors *prometheus.CounterVec
	entries   prometheus.Gauge
}

// NewCollector registers and returns a fresh Collector. It always
// registers against the default registry, so calling it twice in one
// process panics, as with any promauto series; one Collector can be
// passed to several caches.
func NewCollector() *Collector {
	return &Collector{
		hits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cachecore_peek_hits_total",
			Help: "Number of peek operations satisfied from the cache.",
		}),
		misses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cachecore_peek_misses_total",
			Help: "Number of peek operations that found nothing usable.",
		}),
		inserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cachecore_stash_inserts_total",
			Help: "Number of RRSets successfully written by stash.",
		}),
		deletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cachecore_entries_deleted_total",
			Help: "Number of entries explicitly removed (clear, version purge).",
		}),
		staleHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cachecore_stale_serving_total",
			Help: "Number of times the stale-serving callback kept an expired entry usable during a peek.",
		}),
		backendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cachecore_backend_errors_total",
			Help: "Backend I/O errors encountered, by operation.",
		}, []string{"op"}),
		entries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cachecore_entries",
			Help: "Number of data keys stored; set to 0 when the cache is cleared and not updated by stash or version purge.",
		}),
	}
}

func (c *Collector) Hit()    { if c != nil { c.hits.Inc() } }
func (c *Collector) Miss()   { if c != nil { c.misses.Inc() } }
func (c *Collector) Insert() { if c != nil { c.inserts.Inc() } }
func (c *Collector) StaleHit() { if c != nil { c.staleHits.Inc() } }

// DeleteN accounts for n entries removed at once (clear, version
// purge).
func (c *Collector) DeleteN(n int) {
	if c != nil && n > 0 {
		c.deletes.Add(float64(n))
	}
}

func (c *Collector) BackendError(op string) {
	if c != nil {
		c.backendErrors.WithLabelValues(op).Inc()
	}
}

func (c *Collector) SetEntries(n int) {
	if c != nil {
		c.entries.Set(float64(n))
	}
}
