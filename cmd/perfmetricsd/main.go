// Command perfmetricsd runs a standalone metrics aggregator with the Prometheus
// exporter, snapshot archiving and the host HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/internal/circuit"
	"github.com/ipfs-kit/perfmetrics/internal/config"
	"github.com/ipfs-kit/perfmetrics/internal/metrics"
	redisarchive "github.com/ipfs-kit/perfmetrics/internal/storage/redis"
	s3archive "github.com/ipfs-kit/perfmetrics/internal/storage/s3"
	"github.com/ipfs-kit/perfmetrics/pkg/api"
	"github.com/ipfs-kit/perfmetrics/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "perfmetricsd: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.NewString()
	archives := openArchives(ctx, cfg, instanceID, logger)
	defer archives.close(logger)

	opts := cfg.MetricsOptions()
	opts.InstanceID = instanceID
	opts.Archivers = archives.archivers
	pm, err := metrics.New(opts, logger)
	if err != nil {
		return err
	}

	exporter, err := metrics.NewExporter(pm, cfg.ExporterOptions(), logger)
	if err != nil {
		_ = pm.Shutdown(context.Background())
		return err
	}
	if exporter.Enabled() && cfg.Prometheus.Port > 0 {
		exporter.StartServer(cfg.Prometheus.Port, cfg.Prometheus.Address)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.APIServerConfig(), pm, exporter, logger)
		for name, check := range archives.checks {
			server.AddCheck(name, check)
		}
		server.StartBackground()
	}

	logger.Info("perfmetricsd started",
		zap.String("instance", instanceID),
		zap.Int("archivers", len(archives.archivers)))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown", zap.Error(err))
		}
	}
	if err := exporter.StopServer(shutdownCtx); err != nil {
		logger.Warn("exporter shutdown", zap.Error(err))
	}
	if err := pm.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	return nil
}

type archiveSet struct {
	archivers []metrics.SnapshotArchiver
	checks    map[string]api.HealthCheck
	closers   []func() error
}

// openArchives connects the configured archive backends, each behind a breaker.
// A backend that cannot be reached at startup is logged and left out; snapshots
// still go to disk.
func openArchives(ctx context.Context, cfg *config.Configuration, instanceID string, logger *zap.Logger) *archiveSet {
	set := &archiveSet{checks: make(map[string]api.HealthCheck)}
	retryCfg := cfg.RetryConfig()

	if cfg.Archive.S3.Enabled {
		a, err := s3archive.NewArchiver(ctx, cfg.S3Config(), instanceID, retryCfg, logger)
		if err != nil {
			logger.Error("S3 archive disabled", zap.Error(err))
		} else {
			set.add(circuit.Wrap(a, cfg.BreakerConfig(), logger))
		}
	}

	if cfg.Archive.Redis.Enabled {
		a, err := redisarchive.NewArchiver(ctx, cfg.RedisConfig(), instanceID, retryCfg, logger)
		if err != nil {
			logger.Error("Redis archive disabled", zap.Error(err))
		} else {
			set.add(circuit.Wrap(a, cfg.BreakerConfig(), logger))
			set.closers = append(set.closers, a.Close)
		}
	}

	return set
}

func (s *archiveSet) add(a *circuit.Archiver) {
	s.archivers = append(s.archivers, a)
	s.checks[a.Name()] = a.HealthCheck
}

func (s *archiveSet) close(logger *zap.Logger) {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Warn("failed to close archive", zap.Error(err))
		}
	}
}
