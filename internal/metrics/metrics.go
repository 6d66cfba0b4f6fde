// Package metrics registers the Prometheus collectors exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MediaCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_media_cache_hits_total",
		Help: "Media resolutions served from the on-disk cache",
	})
	MediaCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_media_cache_misses_total",
		Help: "Media resolutions that required a download",
	})
	MediaFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_media_fetch_failures_total",
		Help: "Downloads that failed and fell back to the remote URL",
	})
	MediaEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_media_evictions_total",
		Help: "Cache entries removed by the eviction sweep",
	})
	MediaCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vczap_media_cache_bytes",
		Help: "Size of the media cache after the last sweep",
	})

	ReconciledRooms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_reconciled_rooms_total",
		Help: "Room summaries published by room-list reconciliation",
	})
	ReconciledMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vczap_reconciled_messages_total",
		Help: "Messages upserted by message reconciliation",
	})
	SkippedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vczap_skipped_records_total",
		Help: "Remote records skipped during reconciliation",
	}, []string{"collection"})
	SyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vczap_sync_failures_total",
		Help: "Listener failures surfaced to subscribers",
	}, []string{"listener"})

	StoreWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vczap_store_write_seconds",
		Help:    "Latency of message store writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
