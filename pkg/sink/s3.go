package sink

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// s3Uploader is the part of manager.Uploader the sink uses.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads objects to an S3 bucket with the multipart upload manager.
type S3Sink struct {
	bucket   string
	uploader s3Uploader
	logger   *zap.Logger
}

// OpenS3 loads the default AWS credential chain for the configured region.
func OpenS3(ctx context.Context, cfg config.S3Config, log *zap.Logger) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load AWS configuration").
			WithDetail("region", cfg.Region)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSizeMB > 0 {
			u.PartSize = cfg.PartSizeMB * 1024 * 1024
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
	return newS3Sink(cfg.Bucket, uploader, log), nil
}

func newS3Sink(bucket string, uploader s3Uploader, log *zap.Logger) *S3Sink {
	return &S3Sink{bucket: bucket, uploader: uploader, logger: log}
}

func (s *S3Sink) Write(ctx context.Context, name string, data []byte, meta map[string]string) error {
	start := time.Now()
	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(meta)),
		Metadata:    meta,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to S3").
			WithDetail("bucket", s.bucket).
			WithDetail("key", name)
	}

	s.logger.Debug("object uploaded",
		zap.String("location", result.Location),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *S3Sink) Type() string { return config.SinkS3 }

func (s *S3Sink) Close() error { return nil }
