package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, "json", cfg.Global.LogFormat)
	assert.Equal(t, 1000, cfg.Metrics.MaxHistory)
	assert.Equal(t, 300*time.Second, cfg.Metrics.CollectionInterval)
	assert.True(t, cfg.Metrics.EnableLogging)
	assert.True(t, cfg.Prometheus.Enabled)
	assert.Equal(t, "ipfs", cfg.Prometheus.Prefix)
	assert.Equal(t, 500, cfg.Prometheus.MaxLabelValues)
	assert.False(t, cfg.Archive.S3.Enabled)
	assert.False(t, cfg.Archive.Redis.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		field  string
	}{
		{"invalid log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, "global.log_level"},
		{"invalid log format", func(c *Configuration) { c.Global.LogFormat = "xml" }, "global.log_format"},
		{"negative rotation", func(c *Configuration) { c.Global.LogMaxBackups = -1 }, "global.log_max_size_mb"},
		{"zero history", func(c *Configuration) { c.Metrics.MaxHistory = 0 }, "metrics.max_history"},
		{"zero interval", func(c *Configuration) { c.Metrics.CollectionInterval = 0 }, "metrics.collection_interval"},
		{"resource interval", func(c *Configuration) {
			c.Metrics.TrackSystemResources = true
			c.Metrics.ResourceInterval = 0
		}, "metrics.resource_interval"},
		{"bad prefix", func(c *Configuration) { c.Prometheus.Prefix = "ipfs-node" }, "prometheus.prefix"},
		{"bad port", func(c *Configuration) { c.Prometheus.Port = 70000 }, "prometheus.port"},
		{"s3 without bucket", func(c *Configuration) { c.Archive.S3.Enabled = true }, "archive.s3.bucket"},
		{"redis without addr", func(c *Configuration) {
			c.Archive.Redis.Enabled = true
			c.Archive.Redis.Addr = ""
		}, "archive.redis.addr"},
		{"api without address", func(c *Configuration) { c.API.Address = "" }, "api.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigValidation))

			var pmErr *errors.PerfMetricsError
			require.ErrorAs(t, err, &pmErr)
			assert.Equal(t, tt.field, pmErr.Details["field"])
		})
	}

	t.Run("bad prefix ignored when exporter disabled", func(t *testing.T) {
		cfg := NewDefault()
		cfg.Prometheus.Enabled = false
		cfg.Prometheus.Prefix = "not valid"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFromFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
global:
  log_level: DEBUG
  log_format: console

metrics:
  max_history: 50
  metrics_dir: /tmp/perf
  collection_interval: 30s

prometheus:
  prefix: node
  port: 9200

archive:
  s3:
    enabled: true
    bucket: metrics-bucket
    force_path_style: true
  retry:
    max_attempts: 5
    base_delay: 50ms
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(configFile))

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, "console", cfg.Global.LogFormat)
	assert.Equal(t, 50, cfg.Metrics.MaxHistory)
	assert.Equal(t, "/tmp/perf", cfg.Metrics.MetricsDir)
	assert.Equal(t, 30*time.Second, cfg.Metrics.CollectionInterval)
	assert.Equal(t, "node", cfg.Prometheus.Prefix)
	assert.Equal(t, 9200, cfg.Prometheus.Port)
	assert.True(t, cfg.Archive.S3.Enabled)
	assert.Equal(t, "metrics-bucket", cfg.Archive.S3.Bucket)
	assert.True(t, cfg.Archive.S3.ForcePathStyle)

	// untouched values keep their defaults
	assert.Equal(t, "us-east-1", cfg.Archive.S3.Region)
	assert.True(t, cfg.Prometheus.Enabled)

	rc := cfg.RetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, rc.InitialDelay)

	require.NoError(t, cfg.Validate())

	t.Run("missing file", func(t *testing.T) {
		err := NewDefault().LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("metrics: [unclosed"), 0600))
		err := NewDefault().LoadFromFile(bad)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PERFMETRICS_LOG_LEVEL", "WARN")
	t.Setenv("PERFMETRICS_MAX_HISTORY", "25")
	t.Setenv("PERFMETRICS_COLLECTION_INTERVAL", "1m")
	t.Setenv("PERFMETRICS_TRACK_SYSTEM_RESOURCES", "true")
	t.Setenv("PERFMETRICS_PROMETHEUS_PORT", "9300")
	t.Setenv("PERFMETRICS_S3_BUCKET", "env-bucket")
	t.Setenv("PERFMETRICS_REDIS_DB", "2")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "WARN", cfg.Global.LogLevel)
	assert.Equal(t, 25, cfg.Metrics.MaxHistory)
	assert.Equal(t, time.Minute, cfg.Metrics.CollectionInterval)
	assert.True(t, cfg.Metrics.TrackSystemResources)
	assert.Equal(t, 9300, cfg.Prometheus.Port)
	assert.Equal(t, "env-bucket", cfg.Archive.S3.Bucket)
	assert.Equal(t, 2, cfg.Archive.Redis.DB)

	t.Run("malformed values are reported together", func(t *testing.T) {
		t.Setenv("PERFMETRICS_MAX_HISTORY", "lots")
		t.Setenv("PERFMETRICS_ENABLE_LOGGING", "maybe")

		cfg := NewDefault()
		err := cfg.LoadFromEnv()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
		assert.Contains(t, err.Error(), "PERFMETRICS_MAX_HISTORY")
		assert.Contains(t, err.Error(), "PERFMETRICS_ENABLE_LOGGING")
		assert.Equal(t, 1000, cfg.Metrics.MaxHistory, "bad value leaves the field untouched")
	})
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := NewDefault()
	cfg.Metrics.MetricsDir = "/data/metrics"
	cfg.Prometheus.LatencyBuckets = []float64{0.01, 0.1, 1}
	require.NoError(t, cfg.SaveToFile(path))

	loaded := NewDefault()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg, loaded)
}

func TestConversions(t *testing.T) {
	cfg := NewDefault()
	cfg.Metrics.MetricsDir = "/data"
	cfg.Metrics.MaxHistory = 10
	cfg.Prometheus.Prefix = "node"
	cfg.Prometheus.Enabled = false
	cfg.Global.LogFile = "/var/log/p.log"

	mo := cfg.MetricsOptions()
	assert.Equal(t, "/data", mo.MetricsDir)
	assert.Equal(t, 10, mo.MaxHistory)
	assert.Equal(t, cfg.Metrics.CollectionInterval, mo.CollectionInterval)

	eo := cfg.ExporterOptions()
	assert.False(t, eo.Enabled)
	assert.Equal(t, "node", eo.Prefix)
	assert.Nil(t, eo.Registry)

	lc := cfg.LoggerConfig()
	assert.Equal(t, "/var/log/p.log", lc.File)
	assert.Equal(t, int64(100), lc.MaxSizeMB)
}

func TestArchiveAndAPIConversions(t *testing.T) {
	cfg := NewDefault()
	cfg.Archive.S3.Bucket = "metrics-bucket"
	cfg.Archive.S3.Prefix = ""
	cfg.Archive.Redis.Addr = "redis:6379"
	cfg.Archive.Redis.HistoryLength = 12
	cfg.API.Address = "0.0.0.0:9000"
	cfg.API.IdleTimeout = 0

	s3cfg := cfg.S3Config()
	assert.Equal(t, "metrics-bucket", s3cfg.Bucket)
	assert.Equal(t, "perfmetrics", s3cfg.Prefix, "empty prefix keeps the storage default")
	assert.Equal(t, "STANDARD", s3cfg.StorageClass)
	require.NoError(t, s3cfg.Validate())

	rcfg := cfg.RedisConfig()
	assert.Equal(t, "redis:6379", rcfg.Addr)
	assert.Equal(t, int64(12), rcfg.HistoryLength)
	assert.Equal(t, 24*time.Hour, rcfg.TTL)

	bcfg := cfg.BreakerConfig()
	assert.Equal(t, uint32(3), bcfg.FailureThreshold)
	assert.Equal(t, 15*time.Minute, bcfg.Cooldown)

	apiCfg := cfg.APIServerConfig()
	assert.Equal(t, "0.0.0.0:9000", apiCfg.Address)
	assert.Equal(t, 60*time.Second, apiCfg.IdleTimeout)
}
