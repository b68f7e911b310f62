/*
Package s3 archives metrics snapshots to an S3 bucket or an S3-compatible store.

Each snapshot becomes one object:

	<prefix>/<instance id>/<YYYY-MM-DD>/metrics_<HH>_<unix>.json

so several nodes can share one bucket. The instance id is the aggregator's
PerformanceMetrics.ID.

	archiver, err := s3.NewArchiver(ctx, cfg, pm.ID(), retryCfg, logger)
	if err != nil {
		return err
	}
	opts.Archivers = append(opts.Archivers, archiver)

Credentials come from the default AWS chain unless AccessKeyID and SecretAccessKey
are set. Endpoint and ForcePathStyle target MinIO or LocalStack.

Uploads are retried with pkg/retry. Server-side faults and transport errors are
retried; client faults such as AccessDenied or NoSuchBucket are not.
*/
package s3
