package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
	"github.com/ipfs-kit/perfmetrics/pkg/retry"
)

// Archiver uploads snapshots to S3. It implements metrics.SnapshotArchiver.
type Archiver struct {
	client   API
	config   *Config
	instance string
	retryer  *retry.Retryer
	logger   *zap.Logger
}

// NewArchiver creates an S3 client from cfg and wraps it in an Archiver.
func NewArchiver(ctx context.Context, cfg *Config, instanceID string, retryCfg retry.Config, logger *zap.Logger) (*Archiver, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid S3 archive configuration").
			WithComponent("s3")
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConnectionFailed, "failed to create S3 client").
			WithComponent("s3")
	}
	return NewArchiverWithClient(client, cfg, instanceID, retryCfg, logger), nil
}

// NewArchiverWithClient wraps an existing client.
func NewArchiverWithClient(client API, cfg *Config, instanceID string, retryCfg retry.Config, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "s3"), zap.String("bucket", cfg.Bucket))

	a := &Archiver{
		client:   client,
		config:   cfg,
		instance: instanceID,
		logger:   logger,
	}
	a.retryer = retry.New(retryCfg).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("snapshot upload failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	return a
}

// Name implements metrics.SnapshotArchiver.
func (a *Archiver) Name() string { return "s3" }

// ObjectKey returns the object key for a snapshot key.
func (a *Archiver) ObjectKey(key string) string {
	return path.Join(a.config.Prefix, a.instance, key)
}

// Archive uploads data under ObjectKey(key).
func (a *Archiver) Archive(ctx context.Context, key string, data []byte) error {
	objectKey := a.ObjectKey(key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"instance": a.instance,
		},
	}
	if a.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(a.config.StorageClass)
	}

	start := time.Now()
	err := a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		// The body is consumed by each attempt.
		input.Body = bytes.NewReader(data)
		_, err := a.client.PutObject(ctx, input)
		return classify(err, objectKey)
	})
	if err != nil {
		return err
	}

	a.logger.Debug("snapshot archived",
		zap.String("key", objectKey),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.config.Bucket)})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "S3 health check failed").
			WithComponent("s3").
			WithDetail("bucket", a.config.Bucket)
	}
	return nil
}

// classify wraps err so pkg/retry can tell transient failures from permanent ones.
func classify(err error, key string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, errors.ErrCodeArchiveUpload, "failed to upload snapshot").
		WithComponent("s3").
		WithDetail("key", key)

	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		wrapped.WithDetail("aws_code", apiErr.ErrorCode())
		if apiErr.ErrorFault() == smithy.FaultClient {
			wrapped.Retryable = false
		}
	}
	return wrapped
}
