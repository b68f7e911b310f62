package metrics

import (
	"context"
	"encoding/json"
	"fmt"
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
)

type staticSource struct{ snap Snapshot }

func (s staticSource) Collect() Snapshot { return s.snap }

type panicSource struct{}

func (panicSource) Collect() Snapshot { panic("boom") }

type recordingArchiver struct {
	mu   sync.Mutex
	name string
	err  error
	keys []string
	data [][]byte
}

func (a *recordingArchiver) Name() string { return a.name }

func (a *recordingArchiver) Archive(ctx context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	a.data = append(a.data, data)
	return a.err
}

var snapshotTime = time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)

func newTestWriter(t *testing.T, source snapshotSource, archivers ...SnapshotArchiver) (*SnapshotWriter, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewSnapshotWriter(dir, time.Hour, source, archivers, nil)
	w.now = func() time.Time { return snapshotTime }
	return w, dir
}

func TestSnapshotRoundTrip(t *testing.T) {
	pm := newTestMetrics(t, Options{})
	pm.RecordCacheAccess("hit", "memory")
	pm.RecordCacheAccess("miss", "memory")
	pm.RecordOperationTime("get", 100*time.Millisecond)
	pm.RecordOperationTime("get", 300*time.Millisecond)
	require.NoError(t, pm.RecordBandwidthUsage(Inbound, 2048, "peer"))

	w, dir := newTestWriter(t, pm)
	path, err := w.WriteOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-06-01", "metrics_13_1717246800.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"timestamp", "session_duration", "cache", "operations", "latency", "bandwidth"} {
		assert.Contains(t, raw, key)
	}

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.Cache.Hits)
	assert.Equal(t, 0.5, snap.Cache.HitRate)
	assert.Equal(t, TierStats{Hits: 1, Misses: 1}, snap.Cache.TierStats["memory"])
	assert.Equal(t, int64(2), snap.Operations["get"])
	assert.Equal(t, int64(2048), snap.Bandwidth.InboundTotal)

	lat := snap.Latency["get"]
	assert.Equal(t, 2, lat.Count)
	assert.InDelta(t, 0.1, lat.Min, 1e-9)
	assert.InDelta(t, 0.3, lat.Max, 1e-9)
	assert.InDelta(t, 0.2, lat.Mean, 1e-9)
	assert.InDelta(t, 0.2, lat.Median, 1e-9)
}

func TestSnapshotNeverOverwrites(t *testing.T) {
	w, dir := newTestWriter(t, staticSource{})

	var paths []string
	for i := 0; i < 3; i++ {
		path, err := w.WriteOnce(context.Background())
		require.NoError(t, err)
		paths = append(paths, path)
	}

	day := filepath.Join(dir, "2024-06-01")
	assert.Equal(t, []string{
		filepath.Join(day, "metrics_13_1717246800.json"),
		filepath.Join(day, "metrics_13_1717246800_1.json"),
		filepath.Join(day, "metrics_13_1717246800_2.json"),
	}, paths)
}

func TestSnapshotArchivers(t *testing.T) {
	ok := &recordingArchiver{name: "ok"}
	failing := &recordingArchiver{name: "failing", err: fmt.Errorf("bucket gone")}
	w, _ := newTestWriter(t, staticSource{}, failing, ok)

	path, err := w.WriteOnce(context.Background())
	require.NoError(t, err, "archiver failures do not fail the write")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, a := range []*recordingArchiver{ok, failing} {
		require.Len(t, a.keys, 1)
		assert.Equal(t, "2024-06-01/metrics_13_1717246800.json", a.keys[0])
		assert.Equal(t, onDisk, a.data[0])
	}
}

func TestSnapshotCollectPanic(t *testing.T) {
	w, dir := newTestWriter(t, panicSource{})

	_, err := w.WriteOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotCollect))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSnapshotWriteFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	w := NewSnapshotWriter(file, time.Hour, staticSource{}, nil, nil)
	_, err := w.WriteOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotWrite))
}

func TestSnapshotRun(t *testing.T) {
	archiver := &recordingArchiver{name: "rec"}
	dir := t.TempDir()
	w := NewSnapshotWriter(dir, 10*time.Millisecond, staticSource{}, []SnapshotArchiver{archiver}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		archiver.mu.Lock()
		defer archiver.mu.Unlock()
		return len(archiver.keys) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after cancel")
	}
}

// flakySource panics on its first Collect and succeeds afterwards.
type flakySource struct {
	mu    sync.Mutex
	calls int
}

func (s *flakySource) Collect() Snapshot {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		panic("transient")
	}
	return Snapshot{}
}

func TestSnapshotRunContinuesAfterFailedTick(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	archiver := &recordingArchiver{name: "rec"}
	w := NewSnapshotWriter(t.TempDir(), 10*time.Millisecond, &flakySource{}, []SnapshotArchiver{archiver}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		archiver.mu.Lock()
		defer archiver.mu.Unlock()
		return len(archiver.keys) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 1, logs.FilterMessage("snapshot failed").Len())
}
