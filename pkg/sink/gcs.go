package sink

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// objectWriterFunc opens a writer for one object. Close commits the object.
type objectWriterFunc func(ctx context.Context, name string, meta map[string]string) io.WriteCloser

// GCSSink writes objects to a Google Cloud Storage bucket.
type GCSSink struct {
	bucket    string
	client    *storage.Client
	newWriter objectWriterFunc
	logger    *zap.Logger
}

// OpenGCS creates a storage client, using the credentials file when one is
// configured and application default credentials otherwise. Extra client
// options are appended after the credentials option.
func OpenGCS(ctx context.Context, cfg config.GCSConfig, log *zap.Logger, extra ...option.ClientOption) (*GCSSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client").
			WithDetail("bucket", cfg.Bucket)
	}

	bucket := client.Bucket(cfg.Bucket)
	s := &GCSSink{bucket: cfg.Bucket, client: client, logger: log}
	s.newWriter = func(ctx context.Context, name string, meta map[string]string) io.WriteCloser {
		w := bucket.Object(name).NewWriter(ctx)
		w.ContentType = contentType(meta)
		w.Metadata = meta
		return w
	}
	return s, nil
}

func (s *GCSSink) Write(ctx context.Context, name string, data []byte, meta map[string]string) error {
	w := s.newWriter(ctx, name, meta)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write GCS object").
			WithDetail("bucket", s.bucket).
			WithDetail("object", name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to commit GCS object").
			WithDetail("bucket", s.bucket).
			WithDetail("object", name)
	}

	s.logger.Debug("object written", zap.String("object", name), zap.Int("bytes", len(data)))
	return nil
}

func (s *GCSSink) Type() string { return config.SinkGCS }

func (s *GCSSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
