package circuit

import (
	"context"

	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/internal/metrics"
)

// healthChecker is implemented by archivers that can probe their backend.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Archiver wraps a SnapshotArchiver with a Breaker.
type Archiver struct {
	next    metrics.SnapshotArchiver
	breaker *Breaker
}

// Wrap guards next with a breaker named after it. State changes are logged.
func Wrap(next metrics.SnapshotArchiver, config Config, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "circuit"))
	user := config.OnStateChange
	config.OnStateChange = func(name string, from, to State) {
		log.Warn("archive breaker state changed",
			zap.String("archiver", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if user != nil {
			user(name, from, to)
		}
	}
	return &Archiver{next: next, breaker: NewBreaker(next.Name(), config)}
}

// Name returns the wrapped archiver's name.
func (a *Archiver) Name() string { return a.next.Name() }

// Archive forwards to the wrapped archiver unless the breaker is open.
func (a *Archiver) Archive(ctx context.Context, key string, data []byte) error {
	if err := a.breaker.Allow(); err != nil {
		return err
	}
	err := a.next.Archive(ctx, key, data)
	a.breaker.Done(err)
	return err
}

// HealthCheck reports an open breaker as unhealthy, otherwise probes the backend.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	if err := a.breaker.Err(); err != nil {
		return err
	}
	if hc, ok := a.next.(healthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Breaker exposes the underlying breaker.
func (a *Archiver) Breaker() *Breaker { return a.breaker }
