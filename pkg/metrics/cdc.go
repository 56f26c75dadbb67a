package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventsByKind counts events the replicator dispatched (row changes and the
// begin/commit delimiters), broken
// down by event kind and the destination table, independent of which
// watcher eventually consumed them.
var EventsByKind = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pgcdc_events_total",
		Help: "Total number of decoded replication events by kind and table",
	},
	[]string{"slot", "kind", "table"},
)

// RelationCacheSize reports the number of relations currently cached per
// slot, per relcache.Cache.
var RelationCacheSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pgcdc_relation_cache_size",
		Help: "Number of relations currently held in the relation cache",
	},
	[]string{"slot"},
)

// AggregatorFlushSize reports the number of distinct (table, primary key)
// rows a RecordWatcher flush emitted, by backend.
var AggregatorFlushSize = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pgcdc_aggregator_flush_rows",
		Help:    "Number of coalesced rows emitted per RecordWatcher flush",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	},
	[]string{"backend"},
)

// ReplicationLagBytes reports BeginTransaction.EstimatedSize (final LSN minus
// begin LSN) of the slot's latest transaction with a positive estimate; it
// does not compare against the current WAL insert position.
var ReplicationLagBytes = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pgcdc_replication_lag_bytes",
		Help: "Estimated replication lag in bytes, derived from transaction LSN span",
	},
	[]string{"slot"},
)

// SlotRetries counts runner retry attempts per slot, incremented each time
// runSlotForever restarts a slot after a non-permanent error or a clean
// return with auto_restart enabled.
var SlotRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pgcdc_slot_retries_total",
		Help: "Total number of times a slot's replication loop was restarted",
	},
	[]string{"slot"},
)
