package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/retry"
)

type publish struct {
	latest, history string
	data            []byte
	historyLen      int64
	ttl             time.Duration
}

type fakeStore struct {
	failures  int
	published []publish
	pingErr   error
	closed    bool
}

func (f *fakeStore) Publish(ctx context.Context, latestKey, historyKey string, data []byte, historyLen int64, ttl time.Duration) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("i/o timeout")
	}
	f.published = append(f.published, publish{latestKey, historyKey, data, historyLen, ttl})
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func testRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return cfg
}

func TestArchive(t *testing.T) {
	s := &fakeStore{}
	a := newArchiver(s, NewDefaultConfig(), "node-1", testRetry(), nil)

	require.NoError(t, a.Archive(context.Background(), "2024-06-01/metrics_13_1.json", []byte("{}")))

	require.Len(t, s.published, 1)
	p := s.published[0]
	assert.Equal(t, "perfmetrics:node-1:latest", p.latest)
	assert.Equal(t, "perfmetrics:node-1:history", p.history)
	assert.Equal(t, []byte("{}"), p.data)
	assert.Equal(t, int64(288), p.historyLen)
	assert.Equal(t, 24*time.Hour, p.ttl)
	assert.Equal(t, "redis", a.Name())
}

func TestArchiveRetries(t *testing.T) {
	s := &fakeStore{failures: 2}
	a := newArchiver(s, NewDefaultConfig(), "node-1", testRetry(), nil)
	require.NoError(t, a.Archive(context.Background(), "k", []byte("x")))
	assert.Len(t, s.published, 1)

	s = &fakeStore{failures: 5}
	a = newArchiver(s, NewDefaultConfig(), "node-1", testRetry(), nil)
	err := a.Archive(context.Background(), "k", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeArchiveUpload))
	assert.Equal(t, 2, s.failures, "three attempts consumed")
}

func TestHealthCheckAndClose(t *testing.T) {
	s := &fakeStore{}
	a := newArchiver(s, NewDefaultConfig(), "n", testRetry(), nil)
	assert.NoError(t, a.HealthCheck(context.Background()))

	s.pingErr = fmt.Errorf("connection refused")
	assert.True(t, errors.HasCode(a.HealthCheck(context.Background()), errors.ErrCodeConnectionFailed))

	require.NoError(t, a.Close())
	assert.True(t, s.closed)
}

func TestNewArchiver(t *testing.T) {
	t.Run("empty address", func(t *testing.T) {
		_, err := NewArchiver(context.Background(), &Config{}, "n", testRetry(), nil)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
	})

	t.Run("unreachable server", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Addr = "127.0.0.1:1"
		cfg.DialTimeout = 100 * time.Millisecond

		_, err := NewArchiver(context.Background(), cfg, "n", testRetry(), nil)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))
	})
}
