package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/sysmon"
)

// ResourceSample is one system resource observation.
type ResourceSample = sysmon.Sample

// ResourceProbe collects system resource samples.
type ResourceProbe interface {
	Sample(ctx context.Context) (sysmon.Sample, error)
}

// Options configures a PerformanceMetrics instance
type Options struct {
	// MaxHistory caps every latency ring, the cache access log, the bandwidth
	// event rings and the resource sample ring.
	MaxHistory int `yaml:"max_history"`

	// MetricsDir enables on-disk snapshots when set.
	MetricsDir string `yaml:"metrics_dir"`

	// CollectionInterval is the period between snapshot writes.
	CollectionInterval time.Duration `yaml:"collection_interval"`

	// EnableLogging gates the background snapshot goroutine.
	EnableLogging bool `yaml:"enable_logging"`

	TrackSystemResources bool          `yaml:"track_system_resources"`
	ResourceInterval     time.Duration `yaml:"resource_interval"`

	// SlowOperationThreshold is the latency above which an operation is logged.
	SlowOperationThreshold time.Duration `yaml:"slow_operation_threshold"`

	// ShutdownTimeout bounds the wait for background goroutines when the
	// context passed to Shutdown has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// InstanceID names this aggregator in logs and archive keys. A random
	// UUID is used when empty.
	InstanceID string `yaml:"-"`

	Archivers []SnapshotArchiver `yaml:"-"`
	Probe     ResourceProbe      `yaml:"-"`
}

// DefaultOptions returns the default aggregator options
func DefaultOptions() Options {
	return Options{
		MaxHistory:             1000,
		CollectionInterval:     300 * time.Second,
		EnableLogging:          true,
		ResourceInterval:       30 * time.Second,
		SlowOperationThreshold: time.Second,
		ShutdownTimeout:        5 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.MaxHistory <= 0 {
		o.MaxHistory = d.MaxHistory
	}
	if o.CollectionInterval <= 0 {
		o.CollectionInterval = d.CollectionInterval
	}
	if o.ResourceInterval <= 0 {
		o.ResourceInterval = d.ResourceInterval
	}
	if o.SlowOperationThreshold <= 0 {
		o.SlowOperationThreshold = d.SlowOperationThreshold
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
}

// PerformanceMetrics is the single source of truth for latency, bandwidth, cache,
// operation and error counters. All methods are safe for concurrent use.
type PerformanceMetrics struct {
	mu sync.RWMutex

	opts   Options
	logger *zap.Logger
	id     string

	latencies    map[string]*RingBuffer[float64]
	operations   map[string]int64
	bandwidth    *BandwidthLedger
	cache        *CacheAccounting
	errorCount   int64
	errorsByType map[string]int64
	resources    *RingBuffer[ResourceSample]

	startTime  time.Time
	generation uint64

	writer *SnapshotWriter

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	now func() time.Time
}

// New creates a PerformanceMetrics instance and starts its background goroutines
// as configured.
func New(opts Options, logger *zap.Logger) (*PerformanceMetrics, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	id := opts.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	pm := &PerformanceMetrics{
		opts:         opts,
		logger:       logger.With(zap.String("component", "metrics"), zap.String("instance", id)),
		id:           id,
		latencies:    make(map[string]*RingBuffer[float64]),
		operations:   make(map[string]int64),
		bandwidth:    NewBandwidthLedger(opts.MaxHistory),
		cache:        NewCacheAccounting(opts.MaxHistory),
		errorsByType: make(map[string]int64),
		resources:    NewRingBuffer[ResourceSample](opts.MaxHistory),
		now:          time.Now,
	}
	pm.startTime = pm.now()
	pm.ctx, pm.cancel = context.WithCancel(context.Background())

	if opts.MetricsDir != "" {
		if err := os.MkdirAll(opts.MetricsDir, 0750); err != nil {
			pm.cancel()
			return nil, errors.Wrap(err, errors.ErrCodeSnapshotWrite,
				fmt.Sprintf("failed to create metrics directory %s", opts.MetricsDir)).
				WithComponent("metrics")
		}
		pm.writer = NewSnapshotWriter(opts.MetricsDir, opts.CollectionInterval, pm, opts.Archivers, pm.logger)
	}

	if opts.EnableLogging && pm.writer != nil {
		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()
			pm.writer.Run(pm.ctx)
		}()
	}

	if opts.TrackSystemResources {
		probe := opts.Probe
		if probe == nil {
			dir := opts.MetricsDir
			if dir == "" {
				dir = "/"
			}
			probe = sysmon.NewProbe(dir)
		}
		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()
			pm.sampleResources(pm.ctx, probe)
		}()
	}

	return pm, nil
}

// ID returns the instance identifier attached to logs and archive keys.
func (pm *PerformanceMetrics) ID() string { return pm.id }

// RecordOperationTime records the latency of one invocation of operation.
func (pm *PerformanceMetrics) RecordOperationTime(operation string, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}

	pm.mu.Lock()
	ring := pm.latencies[operation]
	if ring == nil {
		ring = NewRingBuffer[float64](pm.opts.MaxHistory)
		pm.latencies[operation] = ring
	}
	ring.Push(elapsed.Seconds())
	pm.operations[operation]++
	pm.mu.Unlock()

	if elapsed > pm.opts.SlowOperationThreshold {
		pm.logger.Info("slow operation",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed))
	}
}

// TrackLatency is an alias for RecordOperationTime.
func (pm *PerformanceMetrics) TrackLatency(operation string, elapsed time.Duration) {
	pm.RecordOperationTime(operation, elapsed)
}

// TrackOperation starts timing operation and returns a func that records the elapsed time.
//
//	defer pm.TrackOperation("add")()
func (pm *PerformanceMetrics) TrackOperation(operation string) func() {
	start := time.Now()
	return func() {
		pm.RecordOperationTime(operation, time.Since(start))
	}
}

// RecordBandwidthUsage records a transfer of size bytes. An unknown direction or a
// negative size is a caller bug and returns an INVALID_ARGUMENT error without
// touching any ledger.
func (pm *PerformanceMetrics) RecordBandwidthUsage(direction Direction, size int64, source string) error {
	if _, err := ParseDirection(string(direction)); err != nil {
		return err
	}
	if size < 0 {
		return errors.InvalidArgument("bandwidth size must be non-negative, got %d", size).
			WithComponent("bandwidth")
	}

	pm.mu.Lock()
	pm.bandwidth.Record(direction, size, source, pm.now())
	pm.mu.Unlock()
	return nil
}

// TrackBandwidth is an alias for RecordBandwidthUsage.
func (pm *PerformanceMetrics) TrackBandwidth(direction Direction, size int64, source string) error {
	return pm.RecordBandwidthUsage(direction, size, source)
}

// RecordCacheAccess records a cache lookup outcome, optionally attributed to a tier.
func (pm *PerformanceMetrics) RecordCacheAccess(result, tier string) {
	pm.mu.Lock()
	kind := pm.cache.Record(result, tier, pm.now())
	pm.mu.Unlock()

	if kind == CacheUnknown {
		pm.logger.Debug("unrecognized cache result",
			zap.String("result", result),
			zap.String("tier", tier))
	}
}

// TrackCacheAccess is an alias for RecordCacheAccess.
func (pm *PerformanceMetrics) TrackCacheAccess(result, tier string) {
	pm.RecordCacheAccess(result, tier)
}

// RecordError counts one error of the given type.
func (pm *PerformanceMetrics) RecordError(errType string) {
	if errType == "" {
		errType = "unknown"
	}
	pm.mu.Lock()
	pm.errorCount++
	pm.errorsByType[errType]++
	pm.mu.Unlock()
}

// RecordSystemSample stores an externally collected resource sample.
func (pm *PerformanceMetrics) RecordSystemSample(sample ResourceSample) {
	if sample.Timestamp == 0 {
		sample.Timestamp = unixSeconds(pm.now())
	}
	pm.mu.Lock()
	pm.resources.Push(sample)
	pm.mu.Unlock()
}

// SessionDuration returns the time since construction or the last Reset.
func (pm *PerformanceMetrics) SessionDuration() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.now().Sub(pm.startTime)
}

// Reset clears all counters and restarts the session clock. Background goroutines keep running.
func (pm *PerformanceMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.latencies = make(map[string]*RingBuffer[float64])
	pm.operations = make(map[string]int64)
	pm.bandwidth.Reset()
	pm.cache.Reset()
	pm.errorCount = 0
	pm.errorsByType = make(map[string]int64)
	pm.resources.Reset()
	pm.startTime = pm.now()
	pm.generation++
}

// Shutdown stops the background goroutines, waiting at most until ctx is done
// (or ShutdownTimeout when ctx has no deadline), then writes one final snapshot.
// Subsequent calls are no-ops.
func (pm *PerformanceMetrics) Shutdown(ctx context.Context) error {
	var result error
	pm.shutdownOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, pm.opts.ShutdownTimeout)
			defer cancel()
		}

		pm.cancel()

		done := make(chan struct{})
		go func() {
			pm.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			pm.logger.Debug("background tasks stopped")
		case <-ctx.Done():
			pm.logger.Warn("background tasks did not stop in time")
			result = errors.NewError(errors.ErrCodeShutdownTimeout, "background tasks did not stop in time").
				WithComponent("metrics").
				WithCause(ctx.Err())
		}

		if pm.writer != nil {
			// The file is written even when ctx is exhausted; only archiving is bounded by it.
			if _, err := pm.writer.WriteOnce(ctx); err != nil {
				pm.logger.Error("final snapshot failed", zap.Error(err))
			}
		}

		pm.logger.Info("performance metrics shut down")
	})
	return result
}

func (pm *PerformanceMetrics) sampleResources(ctx context.Context, probe ResourceProbe) {
	ticker := time.NewTicker(pm.opts.ResourceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := probe.Sample(ctx)
			if err != nil {
				pm.logger.Warn("resource sample failed", zap.Error(err))
				continue
			}
			pm.RecordSystemSample(sample)
		}
	}
}
