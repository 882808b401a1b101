package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pointdb",
			Subsystem: "page_cache",
			Name:      "hits_total",
			Help:      "Lookups served from the cache",
		},
		[]string{"cache"},
	)
	missesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pointdb",
			Subsystem: "page_cache",
			Name:      "misses_total",
			Help:      "Lookups of keys which were not resident",
		},
		[]string{"cache"},
	)
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pointdb",
			Subsystem: "page_cache",
			Name:      "evictions_total",
			Help:      "Entries dropped to make room for new ones",
		},
		[]string{"cache"},
	)
	writeBacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pointdb",
			Subsystem: "page_cache",
			Name:      "write_backs_total",
			Help:      "Modified entries written back before eviction",
		},
		[]string{"cache"},
	)
	residentEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pointdb",
			Subsystem: "page_cache",
			Name:      "resident",
			Help:      "Entries currently held",
		},
		[]string{"cache"},
	)
)

// Metrics of one cache instance, labelled with its name
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	WriteBacks prometheus.Counter
	Resident   prometheus.Gauge
}

func newMetrics(name string) Metrics {
	return Metrics{
		Hits:       hitsTotal.WithLabelValues(name),
		Misses:     missesTotal.WithLabelValues(name),
		Evictions:  evictionsTotal.WithLabelValues(name),
		WriteBacks: writeBacksTotal.WithLabelValues(name),
		Resident:   residentEntries.WithLabelValues(name),
	}
}
