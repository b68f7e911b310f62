package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ipfs-kit/perfmetrics/internal/metrics"
	"github.com/ipfs-kit/perfmetrics/internal/circuit"
	redisarchive "github.com/ipfs-kit/perfmetrics/internal/storage/redis"
	s3archive "github.com/ipfs-kit/perfmetrics/internal/storage/s3"
	"github.com/ipfs-kit/perfmetrics/pkg/api"
	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/retry"
	"github.com/ipfs-kit/perfmetrics/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PERFMETRICS_"

var metricPrefixPattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Archive    ArchiveConfig    `yaml:"archive"`
	API        APIConfig        `yaml:"api"`
}

// GlobalConfig represents process-wide settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogFormat     string `yaml:"log_format"`
	LogMaxSizeMB  int64  `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogCompress   bool   `yaml:"log_compress"`
}

// MetricsConfig configures the aggregator
type MetricsConfig struct {
	MaxHistory             int           `yaml:"max_history"`
	MetricsDir             string        `yaml:"metrics_dir"`
	CollectionInterval     time.Duration `yaml:"collection_interval"`
	EnableLogging          bool          `yaml:"enable_logging"`
	TrackSystemResources   bool          `yaml:"track_system_resources"`
	ResourceInterval       time.Duration `yaml:"resource_interval"`
	SlowOperationThreshold time.Duration `yaml:"slow_operation_threshold"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout"`
}

// PrometheusConfig configures the exporter and its optional dedicated listener
type PrometheusConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Prefix           string        `yaml:"prefix"`
	Address          string        `yaml:"address"`
	Port             int           `yaml:"port"`
	MaxLabelValues   int           `yaml:"max_label_values"`
	LatencyBuckets   []float64     `yaml:"latency_buckets"`
	ThroughputWindow time.Duration `yaml:"throughput_window"`
	IncludeRuntime   bool          `yaml:"include_runtime"`
}

// ArchiveConfig configures where snapshots are copied after being written to disk
type ArchiveConfig struct {
	S3    S3ArchiveConfig    `yaml:"s3"`
	Redis RedisArchiveConfig `yaml:"redis"`
	Retry RetryConfig        `yaml:"retry"`

	// Breaker skips a backend after repeated failures.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig represents the per-backend circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// S3ArchiveConfig represents the S3 snapshot archive
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisArchiveConfig represents the Redis snapshot archive
type RedisArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	Key           string        `yaml:"key"`
	HistoryLength int64         `yaml:"history_length"`
	TTL           time.Duration `yaml:"ttl"`
}

// RetryConfig represents archive upload retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// APIConfig represents the host HTTP API
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	EnableProfiling bool `yaml:"enable_profiling"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	mo := metrics.DefaultOptions()
	eo := metrics.DefaultExporterOptions()
	rc := retry.DefaultConfig()
	bc := circuit.DefaultConfig()

	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "json",
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
		},
		Metrics: MetricsConfig{
			MaxHistory:             mo.MaxHistory,
			MetricsDir:             "",
			CollectionInterval:     mo.CollectionInterval,
			EnableLogging:          mo.EnableLogging,
			TrackSystemResources:   false,
			ResourceInterval:       mo.ResourceInterval,
			SlowOperationThreshold: mo.SlowOperationThreshold,
			ShutdownTimeout:        mo.ShutdownTimeout,
		},
		Prometheus: PrometheusConfig{
			Enabled:          eo.Enabled,
			Prefix:           eo.Prefix,
			Address:          "0.0.0.0",
			Port:             9100,
			MaxLabelValues:   eo.MaxLabelValues,
			ThroughputWindow: eo.ThroughputWindow,
			IncludeRuntime:   true,
		},
		Archive: ArchiveConfig{
			S3: S3ArchiveConfig{
				Region: "us-east-1",
				Prefix: "perfmetrics",
			},
			Redis: RedisArchiveConfig{
				Addr:          "localhost:6379",
				Key:           "perfmetrics",
				HistoryLength: 288,
				TTL:           24 * time.Hour,
			},
			Retry: RetryConfig{
				MaxAttempts: rc.MaxAttempts,
				BaseDelay:   rc.InitialDelay,
				MaxDelay:    rc.MaxDelay,
			},
			Breaker: BreakerConfig{
				FailureThreshold: int(bc.FailureThreshold),
				Cooldown:         bc.Cooldown,
			},
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1:8090",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv applies PERFMETRICS_* overrides. A malformed value is an error.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FILE", &c.Global.LogFile)
	env.str("LOG_FORMAT", &c.Global.LogFormat)

	// Aggregator
	env.integer("MAX_HISTORY", &c.Metrics.MaxHistory)
	env.str("METRICS_DIR", &c.Metrics.MetricsDir)
	env.duration("COLLECTION_INTERVAL", &c.Metrics.CollectionInterval)
	env.boolean("ENABLE_LOGGING", &c.Metrics.EnableLogging)
	env.boolean("TRACK_SYSTEM_RESOURCES", &c.Metrics.TrackSystemResources)
	env.duration("RESOURCE_INTERVAL", &c.Metrics.ResourceInterval)
	env.duration("SLOW_OPERATION_THRESHOLD", &c.Metrics.SlowOperationThreshold)

	// Exporter
	env.boolean("PROMETHEUS_ENABLED", &c.Prometheus.Enabled)
	env.str("PROMETHEUS_PREFIX", &c.Prometheus.Prefix)
	env.str("PROMETHEUS_ADDRESS", &c.Prometheus.Address)
	env.integer("PROMETHEUS_PORT", &c.Prometheus.Port)

	// Archives
	env.boolean("S3_ENABLED", &c.Archive.S3.Enabled)
	env.str("S3_BUCKET", &c.Archive.S3.Bucket)
	env.str("S3_REGION", &c.Archive.S3.Region)
	env.str("S3_ENDPOINT", &c.Archive.S3.Endpoint)
	env.str("S3_PREFIX", &c.Archive.S3.Prefix)
	env.boolean("REDIS_ENABLED", &c.Archive.Redis.Enabled)
	env.str("REDIS_ADDR", &c.Archive.Redis.Addr)
	env.str("REDIS_PASSWORD", &c.Archive.Redis.Password)
	env.integer("REDIS_DB", &c.Archive.Redis.DB)
	env.integer("ARCHIVE_BREAKER_THRESHOLD", &c.Archive.Breaker.FailureThreshold)
	env.duration("ARCHIVE_BREAKER_COOLDOWN", &c.Archive.Breaker.Cooldown)

	// API
	env.boolean("API_ENABLED", &c.API.Enabled)
	env.str("API_ADDRESS", &c.API.Address)
	env.boolean("API_ENABLE_PROFILING", &c.API.EnableProfiling)

	if len(env.errs) > 0 {
		return errors.NewError(errors.ErrCodeConfigLoad, "invalid environment overrides: "+strings.Join(env.errs, "; ")).
			WithComponent("config")
	}
	return nil
}

// envReader collects parse failures so every bad variable is reported at once.
type envReader struct {
	errs []string
}

func (r *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	return val, ok && val != ""
}

func (r *envReader) str(name string, dst *string) {
	if val, ok := r.lookup(name); ok {
		*dst = val
	}
}

func (r *envReader) integer(name string, dst *int) {
	if val, ok := r.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, val))
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if val, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not a boolean", EnvPrefix, name, val))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if val, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not a duration", EnvPrefix, name, val))
			return
		}
		*dst = d
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...)).
			WithComponent("config").
			WithDetail("field", field)
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", "invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	switch c.Global.LogFormat {
	case "", "json", "console":
	default:
		return invalid("global.log_format", "invalid log_format: %s (must be json or console)", c.Global.LogFormat)
	}

	if c.Global.LogMaxSizeMB < 0 || c.Global.LogMaxBackups < 0 {
		return invalid("global.log_max_size_mb", "log rotation limits cannot be negative")
	}

	if c.Metrics.MaxHistory <= 0 {
		return invalid("metrics.max_history", "max_history must be greater than 0")
	}
	if c.Metrics.CollectionInterval <= 0 {
		return invalid("metrics.collection_interval", "collection_interval must be greater than 0")
	}
	if c.Metrics.TrackSystemResources && c.Metrics.ResourceInterval <= 0 {
		return invalid("metrics.resource_interval", "resource_interval must be greater than 0")
	}

	if c.Prometheus.Enabled {
		if !metricPrefixPattern.MatchString(c.Prometheus.Prefix) {
			return invalid("prometheus.prefix", "invalid metric prefix: %q", c.Prometheus.Prefix)
		}
		if c.Prometheus.Port < 0 || c.Prometheus.Port > 65535 {
			return invalid("prometheus.port", "port out of range: %d", c.Prometheus.Port)
		}
		if c.Prometheus.MaxLabelValues < 0 {
			return invalid("prometheus.max_label_values", "max_label_values cannot be negative")
		}
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return invalid("archive.s3.bucket", "bucket is required when the S3 archive is enabled")
	}
	if c.Archive.Redis.Enabled && c.Archive.Redis.Addr == "" {
		return invalid("archive.redis.addr", "addr is required when the Redis archive is enabled")
	}
	if c.Archive.Retry.MaxAttempts < 0 {
		return invalid("archive.retry.max_attempts", "max_attempts cannot be negative")
	}
	if c.Archive.Breaker.FailureThreshold < 0 || c.Archive.Breaker.Cooldown < 0 {
		return invalid("archive.breaker", "breaker settings cannot be negative")
	}

	if c.API.Enabled && c.API.Address == "" {
		return invalid("api.address", "address is required when the API is enabled")
	}

	return nil
}

// MetricsOptions converts the metrics section into aggregator options.
// Archivers and the resource probe are wired by the caller.
func (c *Configuration) MetricsOptions() metrics.Options {
	return metrics.Options{
		MaxHistory:             c.Metrics.MaxHistory,
		MetricsDir:             c.Metrics.MetricsDir,
		CollectionInterval:     c.Metrics.CollectionInterval,
		EnableLogging:          c.Metrics.EnableLogging,
		TrackSystemResources:   c.Metrics.TrackSystemResources,
		ResourceInterval:       c.Metrics.ResourceInterval,
		SlowOperationThreshold: c.Metrics.SlowOperationThreshold,
		ShutdownTimeout:        c.Metrics.ShutdownTimeout,
	}
}

// ExporterOptions converts the prometheus section into exporter options.
func (c *Configuration) ExporterOptions() metrics.ExporterOptions {
	return metrics.ExporterOptions{
		Enabled:          c.Prometheus.Enabled,
		Prefix:           c.Prometheus.Prefix,
		MaxLabelValues:   c.Prometheus.MaxLabelValues,
		LatencyBuckets:   c.Prometheus.LatencyBuckets,
		ThroughputWindow: c.Prometheus.ThroughputWindow,
		IncludeRuntime:   c.Prometheus.IncludeRuntime,
	}
}

// RetryConfig converts the archive retry section.
func (c *Configuration) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	if c.Archive.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = c.Archive.Retry.MaxAttempts
	}
	if c.Archive.Retry.BaseDelay > 0 {
		rc.InitialDelay = c.Archive.Retry.BaseDelay
	}
	if c.Archive.Retry.MaxDelay > 0 {
		rc.MaxDelay = c.Archive.Retry.MaxDelay
	}
	return rc
}

// LoggerConfig returns the logging settings.
func (c *Configuration) LoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Global.LogLevel,
		File:       c.Global.LogFile,
		Format:     c.Global.LogFormat,
		MaxSizeMB:  c.Global.LogMaxSizeMB,
		MaxBackups: c.Global.LogMaxBackups,
		Compress:   c.Global.LogCompress,
	}
}

// S3Config converts the S3 archive section, keeping storage defaults for unset fields.
func (c *Configuration) S3Config() *s3archive.Config {
	cfg := s3archive.NewDefaultConfig()
	cfg.Bucket = c.Archive.S3.Bucket
	cfg.Endpoint = c.Archive.S3.Endpoint
	cfg.ForcePathStyle = c.Archive.S3.ForcePathStyle
	cfg.AccessKeyID = c.Archive.S3.AccessKeyID
	cfg.SecretAccessKey = c.Archive.S3.SecretAccessKey
	if c.Archive.S3.Region != "" {
		cfg.Region = c.Archive.S3.Region
	}
	if c.Archive.S3.Prefix != "" {
		cfg.Prefix = c.Archive.S3.Prefix
	}
	return cfg
}

// RedisConfig converts the Redis archive section.
func (c *Configuration) RedisConfig() *redisarchive.Config {
	cfg := redisarchive.NewDefaultConfig()
	cfg.Addr = c.Archive.Redis.Addr
	cfg.Password = c.Archive.Redis.Password
	cfg.DB = c.Archive.Redis.DB
	cfg.HistoryLength = c.Archive.Redis.HistoryLength
	cfg.TTL = c.Archive.Redis.TTL
	if c.Archive.Redis.Key != "" {
		cfg.Key = c.Archive.Redis.Key
	}
	return cfg
}

// BreakerConfig converts the archive breaker section.
func (c *Configuration) BreakerConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold: uint32(c.Archive.Breaker.FailureThreshold),
		Cooldown:         c.Archive.Breaker.Cooldown,
	}
}

// APIServerConfig converts the api section.
func (c *Configuration) APIServerConfig() api.ServerConfig {
	cfg := api.DefaultServerConfig()
	cfg.Address = c.API.Address
	if c.API.ReadTimeout > 0 {
		cfg.ReadTimeout = c.API.ReadTimeout
	}
	if c.API.WriteTimeout > 0 {
		cfg.WriteTimeout = c.API.WriteTimeout
	}
	if c.API.IdleTimeout > 0 {
		cfg.IdleTimeout = c.API.IdleTimeout
	}
	cfg.EnableProfiling = c.API.EnableProfiling
	return cfg
}
