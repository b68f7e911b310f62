// Package redis publishes metrics snapshots to Redis: the latest snapshot under
// <key>:<instance>:latest and a capped list of recent ones under <key>:<instance>:history.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/retry"
)

// Config represents the Redis archive configuration
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key is the prefix of every key written.
	Key string `yaml:"key"`

	// HistoryLength caps the history list. 0 disables the list.
	HistoryLength int64 `yaml:"history_length"`

	// TTL expires both keys when no snapshot arrives for that long. 0 keeps them forever.
	TTL time.Duration `yaml:"ttl"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// NewDefaultConfig returns the default Redis archive configuration
func NewDefaultConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		Key:           "perfmetrics",
		HistoryLength: 288,
		TTL:           24 * time.Hour,
		DialTimeout:   5 * time.Second,
	}
}

// store is the write path the archiver needs.
type store interface {
	Publish(ctx context.Context, latestKey, historyKey string, data []byte, historyLen int64, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Archiver writes snapshots to Redis. It implements metrics.SnapshotArchiver.
type Archiver struct {
	store      store
	latestKey  string
	historyKey string
	config     *Config
	retryer    *retry.Retryer
	logger     *zap.Logger
}

// NewArchiver connects to Redis and verifies the connection with PING.
func NewArchiver(ctx context.Context, cfg *Config, instanceID string, retryCfg retry.Config, logger *zap.Logger) (*Archiver, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Addr == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "redis address cannot be empty").
			WithComponent("redis")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	a := newArchiver(&clientStore{client: client}, cfg, instanceID, retryCfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrCodeConnectionFailed, "failed to connect to Redis").
			WithComponent("redis").
			WithDetail("addr", cfg.Addr)
	}

	a.logger.Info("redis archive initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("latest_key", a.latestKey))
	return a, nil
}

func newArchiver(s store, cfg *Config, instanceID string, retryCfg retry.Config, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "redis"))

	base := fmt.Sprintf("%s:%s", cfg.Key, instanceID)
	a := &Archiver{
		store:      s,
		latestKey:  base + ":latest",
		historyKey: base + ":history",
		config:     cfg,
		logger:     logger,
	}
	a.retryer = retry.New(retryCfg).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("snapshot publish failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	return a
}

// Name implements metrics.SnapshotArchiver.
func (a *Archiver) Name() string { return "redis" }

// Archive stores data as the latest snapshot and prepends it to the history list.
// key is only logged; Redis keys do not depend on it.
func (a *Archiver) Archive(ctx context.Context, key string, data []byte) error {
	return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		err := a.store.Publish(ctx, a.latestKey, a.historyKey, data, a.config.HistoryLength, a.config.TTL)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeArchiveUpload, "failed to publish snapshot").
				WithComponent("redis").
				WithDetail("snapshot", key)
		}
		a.logger.Debug("snapshot published", zap.String("snapshot", key), zap.Int("bytes", len(data)))
		return nil
	})
}

// HealthCheck pings the server.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "redis health check failed").
			WithComponent("redis")
	}
	return nil
}

// Close closes the underlying client.
func (a *Archiver) Close() error {
	return a.store.Close()
}

type clientStore struct {
	client *goredis.Client
}

func (s *clientStore) Publish(ctx context.Context, latestKey, historyKey string, data []byte, historyLen int64, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, latestKey, data, ttl)
		if historyLen > 0 {
			pipe.LPush(ctx, historyKey, data)
			pipe.LTrim(ctx, historyKey, 0, historyLen-1)
			if ttl > 0 {
				pipe.Expire(ctx, historyKey, ttl)
			}
		}
		return nil
	})
	return err
}

func (s *clientStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *clientStore) Close() error {
	return s.client.Close()
}
