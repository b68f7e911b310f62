package metrics

import (
	"encoding/json"
	"sort"
)

// OperationStats summarizes the retained latency samples of one operation, in seconds.
type OperationStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// MarshalJSON renders an empty series as {"count":0}.
func (s OperationStats) MarshalJSON() ([]byte, error) {
	if s.Count == 0 {
		return []byte(`{"count":0}`), nil
	}
	type plain OperationStats
	return json.Marshal(plain(s))
}

// LatencySummary is the per-operation latency block of a snapshot.
type LatencySummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// SlowestOperation names the operation with the highest mean latency.
type SlowestOperation struct {
	Name       string  `json:"name"`
	AvgLatency float64 `json:"avg_latency"`
}

// BandwidthAnalysis holds derived bandwidth totals.
type BandwidthAnalysis struct {
	InboundTotal  int64 `json:"inbound_total"`
	OutboundTotal int64 `json:"outbound_total"`
	Total         int64 `json:"total"`
}

// ErrorSummary holds the error counters.
type ErrorSummary struct {
	Count  int64            `json:"count"`
	ByType map[string]int64 `json:"by_type"`
}

// Analysis is the derived view returned by AnalyzeMetrics.
type Analysis struct {
	Timestamp        float64            `json:"timestamp"`
	SessionDuration  float64            `json:"session_duration"`
	LatencyAvg       map[string]float64 `json:"latency_avg"`
	SlowestOperation *SlowestOperation  `json:"slowest_operation,omitempty"`
	Bandwidth        BandwidthAnalysis  `json:"bandwidth"`
	CacheHitRate     float64            `json:"cache_hit_rate"`
	TierHitRates     map[string]float64 `json:"tier_hit_rates"`
	CacheEfficiency  string             `json:"cache_efficiency"`
	Errors           ErrorSummary       `json:"errors"`
	System           *ResourceSample    `json:"system,omitempty"`
}

// CacheEfficiency labels a hit rate as poor, fair or good.
func CacheEfficiency(hitRate float64) string {
	switch {
	case hitRate < 0.5:
		return "poor"
	case hitRate < 0.8:
		return "fair"
	default:
		return "good"
	}
}

func computeStats(samples []float64) OperationStats {
	if len(samples) == 0 {
		return OperationStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return OperationStats{
		Count:  len(sorted),
		Avg:    mean(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: percentileSorted(sorted, 50),
		P95:    percentileSorted(sorted, 95),
		P99:    percentileSorted(sorted, 99),
	}
}

// GetOperationStats returns statistics over the retained samples of operation.
// Unknown operations yield a zero-count result.
func (pm *PerformanceMetrics) GetOperationStats(operation string) OperationStats {
	pm.mu.RLock()
	ring := pm.latencies[operation]
	var samples []float64
	if ring != nil {
		samples = ring.Values()
	}
	pm.mu.RUnlock()

	return computeStats(samples)
}

// GetAllOperationStats returns statistics for every operation seen so far.
func (pm *PerformanceMetrics) GetAllOperationStats() map[string]OperationStats {
	pm.mu.RLock()
	samples := make(map[string][]float64, len(pm.latencies))
	for name, ring := range pm.latencies {
		samples[name] = ring.Values()
	}
	pm.mu.RUnlock()

	out := make(map[string]OperationStats, len(samples))
	for name, values := range samples {
		out[name] = computeStats(values)
	}
	return out
}

// AnalyzeMetrics returns derived metrics for the current session.
func (pm *PerformanceMetrics) AnalyzeMetrics() Analysis {
	pm.mu.RLock()
	now := pm.now()
	analysis := Analysis{
		Timestamp:       unixSeconds(now),
		SessionDuration: now.Sub(pm.startTime).Seconds(),
		LatencyAvg:      make(map[string]float64, len(pm.latencies)),
		TierHitRates:    make(map[string]float64),
		Errors: ErrorSummary{
			Count:  pm.errorCount,
			ByType: copyCounts(pm.errorsByType),
		},
	}
	for name, ring := range pm.latencies {
		if ring.Len() > 0 {
			analysis.LatencyAvg[name] = mean(ring.Values())
		}
	}
	totals := pm.bandwidth.Totals()
	cache := pm.cache.Summary()
	if latest := pm.resources.Last(1); len(latest) == 1 {
		sample := latest[0]
		analysis.System = &sample
	}
	pm.mu.RUnlock()

	// Map iteration order is random; break ties on name so the result is stable.
	for name, avg := range analysis.LatencyAvg {
		s := analysis.SlowestOperation
		if s == nil || avg > s.AvgLatency || (avg == s.AvgLatency && name < s.Name) {
			analysis.SlowestOperation = &SlowestOperation{Name: name, AvgLatency: avg}
		}
	}

	analysis.Bandwidth = BandwidthAnalysis{
		InboundTotal:  totals.InboundTotal,
		OutboundTotal: totals.OutboundTotal,
		Total:         totals.InboundTotal + totals.OutboundTotal,
	}

	analysis.CacheHitRate = cache.HitRate
	for tier, ts := range cache.TierStats {
		analysis.TierHitRates[tier] = ts.HitRate()
	}
	analysis.CacheEfficiency = CacheEfficiency(cache.HitRate)

	return analysis
}

// CacheSummary returns a consistent copy of the cache counters.
func (pm *PerformanceMetrics) CacheSummary() CacheSummary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.cache.Summary()
}

// BandwidthTotals returns the cumulative bandwidth counters.
func (pm *PerformanceMetrics) BandwidthTotals() BandwidthTotals {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.bandwidth.Totals()
}

// OperationCounts returns a copy of the invocation counters.
func (pm *PerformanceMetrics) OperationCounts() map[string]int64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return copyCounts(pm.operations)
}

// Errors returns the error counters.
func (pm *PerformanceMetrics) Errors() ErrorSummary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return ErrorSummary{Count: pm.errorCount, ByType: copyCounts(pm.errorsByType)}
}

// SystemSamples returns the retained resource samples, oldest first.
func (pm *PerformanceMetrics) SystemSamples() []ResourceSample {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.resources.Values()
}

// CacheAccesses returns the retained cache access log, oldest first.
func (pm *PerformanceMetrics) CacheAccesses() []CacheAccess {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.cache.Accesses()
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
