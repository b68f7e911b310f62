/*
Package metrics aggregates the runtime performance data of an IPFS node: operation
latencies, bandwidth, cache effectiveness, error counts and system resource samples.

# Overview

A single PerformanceMetrics instance is the source of truth. Recording is cheap and
safe from any goroutine; everything else (statistics, analysis, on-disk snapshots,
Prometheus export) reads from it.

	┌──────────────────────┐
	│  PerformanceMetrics  │  ← Record* / Track* from request paths
	└──────────┬───────────┘
	           │
	   ┌───────┴─────────┬──────────────────┐
	   │                 │                  │
	SnapshotWriter     Exporter        AnalyzeMetrics
	dir/<date>/        /metrics        /stats, /analysis

# Recording

	pm, err := metrics.New(metrics.DefaultOptions(), logger)
	if err != nil {
		return err
	}
	defer pm.Shutdown(ctx)

	defer pm.TrackOperation("add")()
	pm.RecordCacheAccess("memory_hit", "memory")
	if err := pm.RecordBandwidthUsage(metrics.Inbound, int64(n), peerID); err != nil {
		return err
	}

Latency samples are kept in a ring of MaxHistory entries per operation. Invocation
counts, cache counters and bandwidth totals are cumulative and never truncated.

Cache results "hit" and "<tier>_hit" count as hits, "miss" and "<tier>_miss" as misses.
Anything else is kept in the access log but counts as neither.

# Snapshots

With MetricsDir set, a snapshot is written every CollectionInterval to

	<MetricsDir>/<YYYY-MM-DD>/metrics_<HH>_<unix>.json

Existing files are never overwritten. Every snapshot is also handed to the configured
SnapshotArchiver implementations; an archiver failure is logged and does not fail the
write. Shutdown writes one last snapshot.

# Prometheus

Exporter translates the cumulative counters into Prometheus counters by forwarding
only the increase since the previous Update, so scrapes never double count. A Reset
of the source is detected by its generation number and the baselines are resynced.

Counters:
  - <prefix>_cache_hits_total, <prefix>_cache_misses_total
  - <prefix>_cache_tier_hits_total{tier}, <prefix>_cache_tier_misses_total{tier}
  - <prefix>_operations_total{operation}
  - <prefix>_bandwidth_inbound_bytes_total, <prefix>_bandwidth_outbound_bytes_total
  - <prefix>_errors_total, <prefix>_errors_by_type_total{type}

Histograms:
  - <prefix>_operation_latency_seconds{operation}

Gauges:
  - <prefix>_cache_hit_ratio, <prefix>_cache_tier_hit_ratio{tier}
  - <prefix>_bandwidth_inbound_bytes_per_second, <prefix>_bandwidth_outbound_bytes_per_second
  - <prefix>_system_cpu_percent, <prefix>_system_memory_percent, <prefix>_system_memory_available_bytes
  - <prefix>_system_disk_percent, <prefix>_system_disk_free_bytes
  - <prefix>_session_duration_seconds

Label values per kind are capped by MaxLabelValues; further names are folded into "other".

# Thread Safety

All PerformanceMetrics and Exporter methods are safe for concurrent use.
*/
package metrics
