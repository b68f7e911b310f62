package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

// Snapshot is the on-disk record written by SnapshotWriter. Field names and nesting
// are consumed by downstream tooling and must stay stable.
type Snapshot struct {
	Timestamp       float64                   `json:"timestamp"`
	SessionDuration float64                   `json:"session_duration"`
	Cache           CacheSummary              `json:"cache"`
	Operations      map[string]int64          `json:"operations"`
	Latency         map[string]LatencySummary `json:"latency"`
	Bandwidth       BandwidthTotals           `json:"bandwidth"`
}

// SnapshotArchiver receives a copy of every snapshot written to disk.
// key is the path relative to the metrics directory, e.g. "2024-06-01/metrics_13_1717246800.json".
type SnapshotArchiver interface {
	Name() string
	Archive(ctx context.Context, key string, data []byte) error
}

type snapshotSource interface {
	Collect() Snapshot
}

// Collect takes a read-only point-in-time snapshot.
func (pm *PerformanceMetrics) Collect() Snapshot {
	pm.mu.RLock()
	now := pm.now()
	snap := Snapshot{
		Timestamp:       unixSeconds(now),
		SessionDuration: now.Sub(pm.startTime).Seconds(),
		Cache:           pm.cache.Summary(),
		Operations:      copyCounts(pm.operations),
		Latency:         make(map[string]LatencySummary, len(pm.latencies)),
		Bandwidth:       pm.bandwidth.Totals(),
	}
	samples := make(map[string][]float64, len(pm.latencies))
	for name, ring := range pm.latencies {
		if ring.Len() > 0 {
			samples[name] = ring.Values()
		}
	}
	pm.mu.RUnlock()

	for name, values := range samples {
		sort.Float64s(values)
		snap.Latency[name] = LatencySummary{
			Count:  len(values),
			Min:    values[0],
			Max:    values[len(values)-1],
			Mean:   mean(values),
			Median: percentileSorted(values, 50),
			P95:    percentileSorted(values, 95),
		}
	}
	return snap
}

// SnapshotWriter periodically persists snapshots under dir/<YYYY-MM-DD>/.
type SnapshotWriter struct {
	dir       string
	interval  time.Duration
	source    snapshotSource
	archivers []SnapshotArchiver
	logger    *zap.Logger
	now       func() time.Time
}

// NewSnapshotWriter creates a writer. It does nothing until Run or WriteOnce is called.
func NewSnapshotWriter(dir string, interval time.Duration, source snapshotSource, archivers []SnapshotArchiver, logger *zap.Logger) *SnapshotWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotWriter{
		dir:       dir,
		interval:  interval,
		source:    source,
		archivers: archivers,
		logger:    logger.With(zap.String("subcomponent", "snapshot")),
		now:       time.Now,
	}
}

// Run writes a snapshot every interval until ctx is cancelled. A failed write is
// logged and the loop carries on with the next tick.
func (w *SnapshotWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot writer started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("snapshot writer stopped")
			return
		case <-ticker.C:
			if path, err := w.WriteOnce(ctx); err != nil {
				w.logger.Error("snapshot failed", zap.Error(err))
			} else {
				w.logger.Debug("snapshot written", zap.String("path", path))
			}
		}
	}
}

// WriteOnce collects and writes one snapshot, returning the file path. Archiver
// failures are logged and do not fail the write.
func (w *SnapshotWriter) WriteOnce(ctx context.Context) (path string, err error) {
	snap, err := w.collect()
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSnapshotCollect, "failed to encode snapshot").
			WithComponent("snapshot")
	}

	at := w.now()
	path, err = w.create(at, data)
	if err != nil {
		return "", err
	}

	key, relErr := filepath.Rel(w.dir, path)
	if relErr != nil {
		key = filepath.Base(path)
	}
	key = filepath.ToSlash(key)

	for _, a := range w.archivers {
		if err := a.Archive(ctx, key, data); err != nil {
			w.logger.Error("snapshot archive failed",
				zap.String("archiver", a.Name()),
				zap.String("key", key),
				zap.Error(errors.Wrap(err, errors.ErrCodeArchiveUpload, "archive failed").
					WithComponent("snapshot").
					WithOperation(a.Name())))
		}
	}

	return path, nil
}

func (w *SnapshotWriter) collect() (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodeSnapshotCollect, fmt.Sprintf("panic while collecting snapshot: %v", r)).
				WithComponent("snapshot")
		}
	}()
	return w.source.Collect(), nil
}

// create writes data to a new file named after the hour and unix time of at.
// Existing files are never overwritten; a numeric suffix resolves same-second collisions.
func (w *SnapshotWriter) create(at time.Time, data []byte) (string, error) {
	dayDir := filepath.Join(w.dir, at.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0750); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSnapshotWrite, "failed to create snapshot directory").
			WithComponent("snapshot").
			WithDetail("dir", dayDir)
	}

	base := fmt.Sprintf("metrics_%s_%d", at.Format("15"), at.Unix())
	for attempt := 0; ; attempt++ {
		name := base
		if attempt > 0 {
			name += "_" + strconv.Itoa(attempt)
		}
		path := filepath.Join(dayDir, name+".json")

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeSnapshotWrite, "failed to create snapshot file").
				WithComponent("snapshot").
				WithDetail("path", path)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", errors.Wrap(err, errors.ErrCodeSnapshotWrite, "failed to write snapshot file").
				WithComponent("snapshot").
				WithDetail("path", path)
		}
		if err := f.Close(); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeSnapshotWrite, "failed to close snapshot file").
				WithComponent("snapshot").
				WithDetail("path", path)
		}
		return path, nil
	}
}
