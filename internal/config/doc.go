/*
Package config loads the perfmetricsd configuration.

Sources, lowest precedence first:

 1. Compiled-in defaults (NewDefault)
 2. A YAML file (LoadFromFile)
 3. PERFMETRICS_* environment variables (LoadFromEnv)

Validate runs after all sources are applied. The section structs map onto the
runtime types through the converter methods (MetricsOptions, ExporterOptions,
S3Config, RedisConfig and so on).

# Example

	global:
	  log_level: INFO
	  log_file: /var/log/perfmetrics/perfmetricsd.log
	  log_max_size_mb: 100

	metrics:
	  max_history: 1000
	  metrics_dir: /var/lib/perfmetrics
	  collection_interval: 5m
	  enable_logging: true
	  track_system_resources: true
	  resource_interval: 30s

	prometheus:
	  enabled: true
	  prefix: ipfs
	  address: 0.0.0.0
	  port: 9100

	archive:
	  s3:
	    enabled: true
	    bucket: node-metrics
	    region: us-west-2
	  redis:
	    enabled: false
	    addr: localhost:6379
	  retry:
	    max_attempts: 3
	  breaker:
	    failure_threshold: 3
	    cooldown: 15m

	api:
	  enabled: true
	  address: 127.0.0.1:8090

# Environment Variables

	PERFMETRICS_LOG_LEVEL, PERFMETRICS_LOG_FILE, PERFMETRICS_LOG_FORMAT
	PERFMETRICS_MAX_HISTORY, PERFMETRICS_METRICS_DIR, PERFMETRICS_COLLECTION_INTERVAL
	PERFMETRICS_ENABLE_LOGGING, PERFMETRICS_TRACK_SYSTEM_RESOURCES
	PERFMETRICS_RESOURCE_INTERVAL, PERFMETRICS_SLOW_OPERATION_THRESHOLD
	PERFMETRICS_PROMETHEUS_ENABLED, PERFMETRICS_PROMETHEUS_PREFIX
	PERFMETRICS_PROMETHEUS_ADDRESS, PERFMETRICS_PROMETHEUS_PORT
	PERFMETRICS_S3_ENABLED, PERFMETRICS_S3_BUCKET, PERFMETRICS_S3_REGION
	PERFMETRICS_S3_ENDPOINT, PERFMETRICS_S3_PREFIX
	PERFMETRICS_REDIS_ENABLED, PERFMETRICS_REDIS_ADDR, PERFMETRICS_REDIS_PASSWORD, PERFMETRICS_REDIS_DB
	PERFMETRICS_ARCHIVE_BREAKER_THRESHOLD, PERFMETRICS_ARCHIVE_BREAKER_COOLDOWN
	PERFMETRICS_API_ENABLED, PERFMETRICS_API_ADDRESS, PERFMETRICS_API_ENABLE_PROFILING

Credentials for S3 are normally taken from the default AWS chain; access_key_id and
secret_access_key in the file are meant for local S3-compatible stores.
*/
package config
