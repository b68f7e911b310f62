package metrics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/sysmon"
)

func newTestMetrics(t *testing.T, opts Options) *PerformanceMetrics {
	t.Helper()
	pm, err := New(opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Shutdown(context.Background()) })
	return pm
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		pm := newTestMetrics(t, Options{})
		assert.Equal(t, 1000, pm.opts.MaxHistory)
		assert.NotEmpty(t, pm.ID())
		assert.Nil(t, pm.writer)
	})

	t.Run("explicit instance id", func(t *testing.T) {
		pm := newTestMetrics(t, Options{InstanceID: "node-a"})
		assert.Equal(t, "node-a", pm.ID())
	})

	t.Run("creates metrics dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "metrics")
		newTestMetrics(t, Options{MetricsDir: dir})
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("unusable metrics dir", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

		_, err := New(Options{MetricsDir: filepath.Join(file, "sub")}, nil)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotWrite))
	})
}

func TestLatencyHistoryIsBounded(t *testing.T) {
	pm := newTestMetrics(t, Options{MaxHistory: 3})

	for _, ms := range []int{100, 200, 300, 400} {
		pm.RecordOperationTime("get", time.Duration(ms)*time.Millisecond)
	}

	stats := pm.GetOperationStats("get")
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.2, stats.Min, 1e-9)
	assert.InDelta(t, 0.4, stats.Max, 1e-9)
	assert.InDelta(t, 0.3, stats.Median, 1e-9)

	assert.Equal(t, int64(4), pm.OperationCounts()["get"], "invocation count is not bounded")
}

func TestGetOperationStats(t *testing.T) {
	pm := newTestMetrics(t, Options{})

	for i := 1; i <= 10; i++ {
		pm.RecordOperationTime("add", time.Duration(i)*time.Second)
	}

	stats := pm.GetOperationStats("add")
	assert.Equal(t, 10, stats.Count)
	assert.InDelta(t, 5.5, stats.Avg, 1e-9)
	assert.InDelta(t, 5.5, stats.Median, 1e-9)
	assert.InDelta(t, 9.55, stats.P95, 1e-9)
	assert.InDelta(t, 9.91, stats.P99, 1e-9)
	assert.LessOrEqual(t, stats.Min, stats.Median)
	assert.LessOrEqual(t, stats.Median, stats.P95)
	assert.LessOrEqual(t, stats.P95, stats.P99)
	assert.LessOrEqual(t, stats.P99, stats.Max)

	t.Run("unknown operation", func(t *testing.T) {
		empty := pm.GetOperationStats("nope")
		assert.Equal(t, 0, empty.Count)
		data, err := json.Marshal(empty)
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":0}`, string(data))
	})

	t.Run("all operations", func(t *testing.T) {
		pm.RecordOperationTime("cat", 10*time.Millisecond)
		all := pm.GetAllOperationStats()
		assert.Len(t, all, 2)
		assert.Equal(t, 1, all["cat"].Count)
	})
}

func TestNegativeLatencyClampsToZero(t *testing.T) {
	pm := newTestMetrics(t, Options{})
	pm.RecordOperationTime("pin", -time.Second)
	assert.Equal(t, 0.0, pm.GetOperationStats("pin").Max)
}

func TestSlowOperationIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pm, err := New(Options{SlowOperationThreshold: 500 * time.Millisecond}, zap.New(core))
	require.NoError(t, err)
	defer pm.Shutdown(context.Background())

	pm.RecordOperationTime("fast", 100*time.Millisecond)
	pm.RecordOperationTime("slow", 2*time.Second)

	slow := logs.FilterMessage("slow operation").All()
	require.Len(t, slow, 1)
	assert.Equal(t, "slow", slow[0].ContextMap()["operation"])
}

func TestTrackOperation(t *testing.T) {
	pm := newTestMetrics(t, Options{})

	func() {
		defer pm.TrackOperation("stat")()
		time.Sleep(5 * time.Millisecond)
	}()
	pm.TrackLatency("stat", time.Millisecond)

	stats := pm.GetOperationStats("stat")
	assert.Equal(t, 2, stats.Count)
	assert.GreaterOrEqual(t, stats.Max, 0.005)
}

func TestRecordBandwidthUsage(t *testing.T) {
	pm := newTestMetrics(t, Options{})

	require.NoError(t, pm.RecordBandwidthUsage(Inbound, 1024, "peer1"))
	require.NoError(t, pm.TrackBandwidth(Outbound, 0, ""))

	totals := pm.BandwidthTotals()
	assert.Equal(t, int64(1024), totals.InboundTotal)
	assert.Equal(t, int64(0), totals.OutboundTotal)
	assert.Equal(t, int64(1), totals.OutboundCount)

	t.Run("invalid direction leaves ledger untouched", func(t *testing.T) {
		err := pm.RecordBandwidthUsage(Direction("sideways"), 10, "")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
		assert.Equal(t, totals, pm.BandwidthTotals())
	})

	t.Run("negative size", func(t *testing.T) {
		err := pm.RecordBandwidthUsage(Inbound, -1, "")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
		assert.Equal(t, totals, pm.BandwidthTotals())
	})
}

func TestRecordCacheAccess(t *testing.T) {
	pm := newTestMetrics(t, Options{})

	for _, r := range []string{"hit", "miss", "hit", "cache_hit"} {
		pm.RecordCacheAccess(r, "")
	}

	summary := pm.CacheSummary()
	assert.Equal(t, int64(3), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.InDelta(t, 0.75, summary.HitRate, 1e-9)
	assert.Len(t, pm.CacheAccesses(), 4)

	pm.TrackCacheAccess("memory_hit", "memory")
	assert.Equal(t, int64(1), pm.CacheSummary().TierStats["memory"].Hits)
}

func TestRecordError(t *testing.T) {
	pm := newTestMetrics(t, Options{})
	pm.RecordError("timeout")
	pm.RecordError("timeout")
	pm.RecordError("")

	errs := pm.Errors()
	assert.Equal(t, int64(3), errs.Count)
	assert.Equal(t, map[string]int64{"timeout": 2, "unknown": 1}, errs.ByType)
}

func TestAnalyzeMetrics(t *testing.T) {
	pm := newTestMetrics(t, Options{})

	pm.RecordOperationTime("A", 100*time.Millisecond)
	pm.RecordOperationTime("A", 100*time.Millisecond)
	pm.RecordOperationTime("B", 500*time.Millisecond)
	require.NoError(t, pm.RecordBandwidthUsage(Inbound, 100, ""))
	require.NoError(t, pm.RecordBandwidthUsage(Outbound, 50, ""))
	pm.RecordCacheAccess("hit", "memory")
	pm.RecordCacheAccess("miss", "disk")
	pm.RecordSystemSample(sysmon.Sample{CPUPercent: 12.5})

	a := pm.AnalyzeMetrics()
	require.NotNil(t, a.SlowestOperation)
	assert.Equal(t, "B", a.SlowestOperation.Name)
	assert.InDelta(t, 0.5, a.SlowestOperation.AvgLatency, 1e-9)
	assert.InDelta(t, 0.1, a.LatencyAvg["A"], 1e-9)
	assert.Equal(t, BandwidthAnalysis{InboundTotal: 100, OutboundTotal: 50, Total: 150}, a.Bandwidth)
	assert.Equal(t, 0.5, a.CacheHitRate)
	assert.Equal(t, "fair", a.CacheEfficiency)
	assert.Equal(t, map[string]float64{"memory": 1, "disk": 0}, a.TierHitRates)
	require.NotNil(t, a.System)
	assert.Equal(t, 12.5, a.System.CPUPercent)

	t.Run("empty session", func(t *testing.T) {
		empty := newTestMetrics(t, Options{}).AnalyzeMetrics()
		assert.Nil(t, empty.SlowestOperation)
		assert.Equal(t, "poor", empty.CacheEfficiency)
		assert.Nil(t, empty.System)
	})

	t.Run("ties break on name", func(t *testing.T) {
		tied := newTestMetrics(t, Options{})
		tied.RecordOperationTime("zeta", time.Second)
		tied.RecordOperationTime("alpha", time.Second)
		assert.Equal(t, "alpha", tied.AnalyzeMetrics().SlowestOperation.Name)
	})
}

func TestCacheEfficiency(t *testing.T) {
	assert.Equal(t, "poor", CacheEfficiency(0.49))
	assert.Equal(t, "fair", CacheEfficiency(0.5))
	assert.Equal(t, "fair", CacheEfficiency(0.79))
	assert.Equal(t, "good", CacheEfficiency(0.8))
}

func TestReset(t *testing.T) {
	pm := newTestMetrics(t, Options{})
	clock := time.Unix(1700000000, 0)
	pm.now = func() time.Time { return clock }

	pm.RecordOperationTime("get", time.Second)
	pm.RecordCacheAccess("hit", "memory")
	require.NoError(t, pm.RecordBandwidthUsage(Inbound, 10, ""))
	pm.RecordError("x")

	clock = clock.Add(time.Minute)
	pm.Reset()

	assert.Empty(t, pm.OperationCounts())
	assert.Equal(t, CacheSummary{TierStats: map[string]TierStats{}}, pm.CacheSummary())
	assert.Equal(t, BandwidthTotals{}, pm.BandwidthTotals())
	assert.Equal(t, int64(0), pm.Errors().Count)
	assert.Equal(t, time.Duration(0), pm.SessionDuration())
	assert.Equal(t, uint64(1), pm.generation)
}

func TestConcurrentRecording(t *testing.T) {
	pm := newTestMetrics(t, Options{MaxHistory: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				pm.RecordOperationTime("get", time.Millisecond)
				pm.RecordCacheAccess("hit", "memory")
				_ = pm.RecordBandwidthUsage(Outbound, 1, "")
				_ = pm.AnalyzeMetrics()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), pm.OperationCounts()["get"])
	assert.Equal(t, int64(800), pm.CacheSummary().Hits)
	assert.Equal(t, int64(800), pm.BandwidthTotals().OutboundTotal)
	assert.Equal(t, 50, pm.GetOperationStats("get").Count)
}

type stubProbe struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProbe) Sample(ctx context.Context) (sysmon.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return sysmon.Sample{Timestamp: 1, CPUPercent: float64(p.calls)}, nil
}

func TestResourceSampling(t *testing.T) {
	probe := &stubProbe{}
	pm := newTestMetrics(t, Options{
		TrackSystemResources: true,
		ResourceInterval:     10 * time.Millisecond,
		Probe:                probe,
	})

	require.Eventually(t, func() bool {
		return len(pm.SystemSamples()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		pm, err := New(Options{
			TrackSystemResources: true,
			ResourceInterval:     time.Hour,
			Probe:                &stubProbe{},
		}, nil)
		require.NoError(t, err)

		require.NoError(t, pm.Shutdown(context.Background()))
		require.NoError(t, pm.Shutdown(context.Background()))
	})

	t.Run("writes final snapshot", func(t *testing.T) {
		dir := t.TempDir()
		pm, err := New(Options{MetricsDir: dir, CollectionInterval: time.Hour, EnableLogging: true}, nil)
		require.NoError(t, err)
		pm.RecordOperationTime("get", time.Millisecond)

		require.NoError(t, pm.Shutdown(context.Background()))

		files, err := filepath.Glob(filepath.Join(dir, "*", "metrics_*.json"))
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("stalled archiver is bounded by ctx", func(t *testing.T) {
		dir := t.TempDir()
		pm, err := New(Options{
			MetricsDir:         dir,
			CollectionInterval: time.Hour,
			EnableLogging:      true,
			Archivers:          []SnapshotArchiver{blockingArchiver{}},
		}, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		done := make(chan struct{})
		go func() {
			_ = pm.Shutdown(ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Shutdown blocked on a stalled archiver")
		}

		files, err := filepath.Glob(filepath.Join(dir, "*", "metrics_*.json"))
		require.NoError(t, err)
		assert.Len(t, files, 1, "the file is written even though archiving timed out")
	})
}

// blockingArchiver never finishes until its context ends.
type blockingArchiver struct{}

func (blockingArchiver) Name() string { return "stalled" }

func (blockingArchiver) Archive(ctx context.Context, key string, data []byte) error {
	<-ctx.Done()
	return ctx.Err()
}
