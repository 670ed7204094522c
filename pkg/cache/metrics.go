package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks snapshot cache hits by job kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aps_job_cache_hits_total",
			Help: "Total number of terminal job snapshot cache hits",
		},
		[]string{"kind"},
	)

	// CacheMisses tracks snapshot cache misses by job kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aps_job_cache_misses_total",
			Help: "Total number of terminal job snapshot cache misses",
		},
		[]string{"kind"},
	)

	// CacheStores tracks snapshots written to the cache
	CacheStores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aps_job_cache_stores_total",
			Help: "Total number of terminal job snapshots stored",
		},
		[]string{"kind"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aps_job_cache_errors_total",
			Help: "Total number of job cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
