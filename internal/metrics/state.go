package metrics

import "time"

// OperationExport is the exporter's view of one operation.
type OperationExport struct {
	Count int64
	// Observed is the number of latency samples ever recorded.
	Observed int64
	// NewSamples are the samples recorded after the caller's cursor that are still retained.
	NewSamples []float64
}

// ExportState is a consistent read of every counter the exporter forwards.
type ExportState struct {
	Generation      uint64
	SessionDuration float64
	Cache           CacheSummary
	Operations      map[string]OperationExport
	Bandwidth       BandwidthTotals
	InboundRate     float64
	OutboundRate    float64
	Errors          ErrorSummary
	System          *ResourceSample
}

// StateSource is what the exporter reads from.
type StateSource interface {
	ExportState(generation uint64, cursors map[string]int64, window time.Duration) ExportState
}

// ExportState returns all exported counters under one read lock. cursors maps an
// operation to the Observed value the caller has already consumed; they are ignored
// when generation differs from the current one, i.e. after a Reset.
func (pm *PerformanceMetrics) ExportState(generation uint64, cursors map[string]int64, window time.Duration) ExportState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	now := pm.now()
	st := ExportState{
		Generation:      pm.generation,
		SessionDuration: now.Sub(pm.startTime).Seconds(),
		Cache:           pm.cache.Summary(),
		Operations:      make(map[string]OperationExport, len(pm.operations)),
		Bandwidth:       pm.bandwidth.Totals(),
		InboundRate:     pm.bandwidth.Rate(Inbound, window, now),
		OutboundRate:    pm.bandwidth.Rate(Outbound, window, now),
		Errors:          ErrorSummary{Count: pm.errorCount, ByType: copyCounts(pm.errorsByType)},
	}

	useCursors := generation == pm.generation
	for name, count := range pm.operations {
		op := OperationExport{Count: count}
		if ring := pm.latencies[name]; ring != nil {
			op.Observed = ring.Observed()
			var seen int64
			if useCursors {
				seen = cursors[name]
			}
			if pending := op.Observed - seen; pending > 0 {
				op.NewSamples = ring.Last(int(pending))
			}
		}
		st.Operations[name] = op
	}

	if latest := pm.resources.Last(1); len(latest) == 1 {
		sample := latest[0]
		st.System = &sample
	}
	return st
}
