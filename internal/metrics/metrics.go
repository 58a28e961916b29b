// Package metrics exposes Prometheus instrumentation for the serving core:
// cache hit/miss counters, buffer-pool occupancy, PK-read batch latency and
// aggregation-compile latency. Handler() returns the scrape endpoint for
// the HTTP boundary to mount at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdrs2_cache_lookups_total",
			Help: "Cache lookups by cache name and outcome (hit, miss, populate, error).",
		},
		[]string{"cache", "outcome"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdrs2_cache_entries",
			Help: "Current number of entries held by a cache.",
		},
		[]string{"cache"},
	)

	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdrs2_cache_evictions_total",
			Help: "Entries evicted from a cache by reason (unused, shutdown).",
		},
		[]string{"cache", "reason"},
	)

	BufferPoolAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdrs2_buffer_pool_allocations_total",
			Help: "Total buffers allocated by the request/response buffer pool.",
		},
		[]string{"side"},
	)

	BufferPoolLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdrs2_buffer_pool_live",
			Help: "Buffers currently checked out of the pool.",
		},
		[]string{"side"},
	)

	PKReadBatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdrs2_pk_read_batch_latency_seconds",
			Help:    "Latency of a batched primary-key read dispatch.",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggCompileLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdrs2_agg_compile_latency_seconds",
			Help:    "Latency of compiling an aggregation SQL query into a register program.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdrs2_requests_total",
			Help: "Requests handled by the dispatcher, by route and status kind.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheLookups,
		CacheEntries,
		CacheEvictions,
		BufferPoolAllocations,
		BufferPoolLive,
		PKReadBatchLatency,
		AggCompileLatency,
		RequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
