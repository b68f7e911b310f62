package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

// TextContentType is the content type of GenerateLatest output.
const TextContentType = "text/plain; version=0.0.4; charset=utf-8"

// overflowLabel replaces label values beyond MaxLabelValues.
const overflowLabel = "other"

// ExporterOptions configures the Prometheus exporter
type ExporterOptions struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`

	// MaxLabelValues caps distinct values per label kind (operation, tier, error type).
	MaxLabelValues int `yaml:"max_label_values"`

	LatencyBuckets   []float64     `yaml:"latency_buckets"`
	ThroughputWindow time.Duration `yaml:"throughput_window"`

	// IncludeRuntime registers the Go runtime and process collectors.
	IncludeRuntime bool `yaml:"include_runtime"`

	Registry *prometheus.Registry `yaml:"-"`
}

// DefaultExporterOptions returns the default exporter options
func DefaultExporterOptions() ExporterOptions {
	return ExporterOptions{
		Enabled:          true,
		Prefix:           "ipfs",
		MaxLabelValues:   500,
		LatencyBuckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		ThroughputWindow: time.Minute,
	}
}

// Exporter forwards PerformanceMetrics counters to Prometheus. Counters receive
// only the increase since the previous Update; gauges are set absolutely.
type Exporter struct {
	mu      sync.Mutex
	source  StateSource
	opts    ExporterOptions
	logger  *zap.Logger
	enabled bool

	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	tierHits       *prometheus.CounterVec
	tierMisses     *prometheus.CounterVec
	cacheHitRatio  prometheus.Gauge
	tierHitRatio   *prometheus.GaugeVec
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	bandwidthIn    prometheus.Counter
	bandwidthOut   prometheus.Counter
	throughputIn   prometheus.Gauge
	throughputOut  prometheus.Gauge
	errorsTotal    prometheus.Counter
	errorsByType   *prometheus.CounterVec
	cpuPercent     prometheus.Gauge
	memoryPercent  prometheus.Gauge
	memoryAvail    prometheus.Gauge
	diskPercent    prometheus.Gauge
	diskFree       prometheus.Gauge
	sessionSeconds prometheus.Gauge

	// forwarding state
	generation uint64
	last       map[string]float64
	cursors    map[string]int64
	labels     map[string]map[string]struct{}
	overflowed map[string]bool

	server *http.Server
}

// NewExporter creates an exporter reading from source. A disabled exporter is a
// no-op: every method returns an empty or false result.
func NewExporter(source StateSource, opts ExporterOptions, logger *zap.Logger) (*Exporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultExporterOptions()
	if opts.Prefix == "" {
		opts.Prefix = d.Prefix
	}
	if opts.MaxLabelValues <= 0 {
		opts.MaxLabelValues = d.MaxLabelValues
	}
	if len(opts.LatencyBuckets) == 0 {
		opts.LatencyBuckets = d.LatencyBuckets
	}
	if opts.ThroughputWindow <= 0 {
		opts.ThroughputWindow = d.ThroughputWindow
	}

	e := &Exporter{
		source:     source,
		opts:       opts,
		logger:     logger.With(zap.String("component", "exporter")),
		enabled:    opts.Enabled && source != nil,
		last:       make(map[string]float64),
		cursors:    make(map[string]int64),
		labels:     make(map[string]map[string]struct{}),
		overflowed: make(map[string]bool),
	}
	if !e.enabled {
		e.logger.Info("prometheus exporter disabled")
		return e, nil
	}

	e.registry = opts.Registry
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}

	e.initMetrics()
	if err := e.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return e, nil
}

// Enabled reports whether the exporter is active.
func (e *Exporter) Enabled() bool { return e.enabled }

// Registry returns the registry the exporter writes to, or nil when disabled.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

func (e *Exporter) initMetrics() {
	ns := e.opts.Prefix
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}

	e.cacheHits = counter("cache_hits_total", "Total number of cache hits")
	e.cacheMisses = counter("cache_misses_total", "Total number of cache misses")
	e.tierHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_tier_hits_total", Help: "Cache hits by tier",
	}, []string{"tier"})
	e.tierMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_tier_misses_total", Help: "Cache misses by tier",
	}, []string{"tier"})
	e.cacheHitRatio = gauge("cache_hit_ratio", "Cache hit ratio")
	e.tierHitRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "cache_tier_hit_ratio", Help: "Cache hit ratio by tier",
	}, []string{"tier"})

	e.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "operations_total", Help: "Total number of operations",
	}, []string{"operation"})
	e.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "operation_latency_seconds",
		Help:      "Operation latency in seconds",
		Buckets:   e.opts.LatencyBuckets,
	}, []string{"operation"})

	e.bandwidthIn = counter("bandwidth_inbound_bytes_total", "Total inbound bytes")
	e.bandwidthOut = counter("bandwidth_outbound_bytes_total", "Total outbound bytes")
	e.throughputIn = gauge("bandwidth_inbound_bytes_per_second", "Recent inbound throughput")
	e.throughputOut = gauge("bandwidth_outbound_bytes_per_second", "Recent outbound throughput")

	e.errorsTotal = counter("errors_total", "Total number of errors")
	e.errorsByType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_by_type_total", Help: "Errors by type",
	}, []string{"type"})

	e.cpuPercent = gauge("system_cpu_percent", "CPU utilization percentage")
	e.memoryPercent = gauge("system_memory_percent", "Memory utilization percentage")
	e.memoryAvail = gauge("system_memory_available_bytes", "Available memory in bytes")
	e.diskPercent = gauge("system_disk_percent", "Disk utilization percentage")
	e.diskFree = gauge("system_disk_free_bytes", "Free disk space in bytes")
	e.sessionSeconds = gauge("session_duration_seconds", "Seconds since the metrics session started")
}

func (e *Exporter) registerMetrics() error {
	metrics := []prometheus.Collector{
		e.cacheHits, e.cacheMisses, e.tierHits, e.tierMisses, e.cacheHitRatio, e.tierHitRatio,
		e.operations, e.latency,
		e.bandwidthIn, e.bandwidthOut, e.throughputIn, e.throughputOut,
		e.errorsTotal, e.errorsByType,
		e.cpuPercent, e.memoryPercent, e.memoryAvail, e.diskPercent, e.diskFree,
		e.sessionSeconds,
	}
	if e.opts.IncludeRuntime {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	for _, metric := range metrics {
		if err := e.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// Update pulls the current totals and forwards what changed since the last call.
func (e *Exporter) Update() {
	if !e.enabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.source.ExportState(e.generation, e.cursors, e.opts.ThroughputWindow)
	if st.Generation != e.generation {
		e.logger.Info("metrics reset detected, resyncing baselines",
			zap.Uint64("previous_generation", e.generation),
			zap.Uint64("generation", st.Generation))
		e.generation = st.Generation
		e.last = make(map[string]float64)
		e.cursors = make(map[string]int64)
	}

	e.forward("cache_hits", float64(st.Cache.Hits), e.cacheHits)
	e.forward("cache_misses", float64(st.Cache.Misses), e.cacheMisses)
	e.cacheHitRatio.Set(st.Cache.HitRate)

	// Counter baselines are kept per label value, so names folded into
	// overflowLabel share one entry.
	tierHits := make(map[string]float64)
	tierMisses := make(map[string]float64)
	for _, tier := range sortedKeys(st.Cache.TierStats) {
		ts := st.Cache.TierStats[tier]
		label := e.labelValue("tier", tier)
		tierHits[label] += float64(ts.Hits)
		tierMisses[label] += float64(ts.Misses)
		if label != overflowLabel {
			e.tierHitRatio.WithLabelValues(label).Set(ts.HitRate())
		}
	}
	for label, v := range tierHits {
		e.forward("tier_hits/"+label, v, e.tierHits.WithLabelValues(label))
	}
	for label, v := range tierMisses {
		e.forward("tier_misses/"+label, v, e.tierMisses.WithLabelValues(label))
	}

	opCounts := make(map[string]float64)
	for _, name := range sortedKeys(st.Operations) {
		op := st.Operations[name]
		label := e.labelValue("operation", name)
		opCounts[label] += float64(op.Count)

		if len(op.NewSamples) > 0 {
			observer := e.latency.WithLabelValues(label)
			for _, v := range op.NewSamples {
				observer.Observe(v)
			}
		}
		if op.Observed > e.cursors[name] {
			e.cursors[name] = op.Observed
		}
	}
	for label, v := range opCounts {
		e.forward("operations/"+label, v, e.operations.WithLabelValues(label))
	}

	e.forward("bandwidth_inbound", float64(st.Bandwidth.InboundTotal), e.bandwidthIn)
	e.forward("bandwidth_outbound", float64(st.Bandwidth.OutboundTotal), e.bandwidthOut)
	e.throughputIn.Set(st.InboundRate)
	e.throughputOut.Set(st.OutboundRate)

	e.forward("errors", float64(st.Errors.Count), e.errorsTotal)
	errCounts := make(map[string]float64)
	for _, errType := range sortedKeys(st.Errors.ByType) {
		errCounts[e.labelValue("type", errType)] += float64(st.Errors.ByType[errType])
	}
	for label, v := range errCounts {
		e.forward("errors/"+label, v, e.errorsByType.WithLabelValues(label))
	}

	if s := st.System; s != nil {
		e.cpuPercent.Set(s.CPUPercent)
		e.memoryPercent.Set(s.MemoryPercent)
		e.memoryAvail.Set(float64(s.MemoryAvailable))
		e.diskPercent.Set(s.DiskPercent)
		e.diskFree.Set(float64(s.DiskFree))
	}
	e.sessionSeconds.Set(st.SessionDuration)
}

// forward adds current-last to c when positive. A non-positive delta is skipped so a
// counter never decreases.
func (e *Exporter) forward(key string, current float64, c prometheus.Counter) float64 {
	delta := current - e.last[key]
	if delta <= 0 {
		return 0
	}
	c.Add(delta)
	e.last[key] = current
	return delta
}

// labelValue returns name, or overflowLabel once kind already has MaxLabelValues values.
func (e *Exporter) labelValue(kind, name string) string {
	seen := e.labels[kind]
	if seen == nil {
		seen = make(map[string]struct{})
		e.labels[kind] = seen
	}
	if _, ok := seen[name]; ok {
		return name
	}
	if len(seen) < e.opts.MaxLabelValues {
		seen[name] = struct{}{}
		return name
	}
	if !e.overflowed[kind] {
		e.overflowed[kind] = true
		e.logger.Warn("label cardinality limit reached, folding new values",
			zap.String("label", kind),
			zap.Int("limit", e.opts.MaxLabelValues),
			zap.String("folded_into", overflowLabel))
	}
	return overflowLabel
}

// GenerateLatest updates the exported series and returns the registry in the text
// exposition format. A disabled exporter returns an empty payload.
func (e *Exporter) GenerateLatest() []byte {
	if !e.enabled {
		return []byte{}
	}
	e.Update()

	families, err := e.registry.Gather()
	if err != nil {
		e.logger.Error("failed to gather metrics", zap.Error(err))
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			e.logger.Error("failed to encode metric family",
				zap.String("family", mf.GetName()),
				zap.Error(err))
		}
	}
	return buf.Bytes()
}

// Handler returns an http.Handler serving the registry; every scrape runs Update first.
func (e *Exporter) Handler() http.Handler {
	if !e.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", TextContentType)
			w.WriteHeader(http.StatusOK)
		})
	}
	gatherer := prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		e.Update()
		return e.registry.Gather()
	})
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartServer serves the metrics on a dedicated listener at addr:port under /metrics.
// It returns false, logging the reason, when the exporter is disabled or the listener
// cannot be opened.
func (e *Exporter) StartServer(port int, addr string) bool {
	if !e.enabled {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		e.logger.Warn("metrics server already running", zap.String("addr", e.server.Addr))
		return false
	}

	listenAddr := net.JoinHostPort(addr, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		e.logger.Error("failed to start metrics server",
			zap.Error(errors.Wrap(err, errors.ErrCodeServerStart, "listen failed").
				WithComponent("exporter").
				WithDetail("addr", listenAddr)))
		return false
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv := e.server
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	e.logger.Info("metrics server started", zap.String("addr", srv.Addr))
	return true
}

// ServerAddr returns the address of the dedicated metrics server, if running.
func (e *Exporter) ServerAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		return ""
	}
	return e.server.Addr
}

// StopServer shuts down the dedicated metrics server.
func (e *Exporter) StopServer(ctx context.Context) error {
	e.mu.Lock()
	srv := e.server
	e.server = nil
	e.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
