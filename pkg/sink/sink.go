// Package sink writes encoded profile batches to their destination.
//
// Every sink receives whole objects: a name such as
// "profiles/2026/10/18/profile-1760745600000000000.json.zstd", the payload,
// and string metadata describing it. Sinks are safe for use by one exporter
// goroutine; they need not support concurrent Write calls.
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
)

// Metadata keys set by the exporter.
const (
	MetaContentType = "content_type"
	MetaFormat      = "format"
	MetaCompression = "compression"
	MetaRecords     = "records"
	MetaHost        = "host"
)

// Sink stores encoded batches.
type Sink interface {
	// Write stores data under name. meta may be nil.
	Write(ctx context.Context, name string, data []byte, meta map[string]string) error
	// Type returns the sink type as used in configuration.
	Type() string
	Close() error
}

// Open creates the sink selected by cfg.Type.
func Open(ctx context.Context, cfg config.SinkConfig, log *zap.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log).With(zap.String("sink", cfg.Type))

	switch cfg.Type {
	case config.SinkFile:
		return asSink(OpenFile(cfg.File, log))
	case config.SinkS3:
		return asSink(OpenS3(ctx, cfg.S3, log))
	case config.SinkGCS:
		return asSink(OpenGCS(ctx, cfg.GCS, log))
	case config.SinkKafka:
		return asSink(OpenKafka(cfg.Kafka, log))
	case config.SinkPostgres:
		return asSink(OpenPostgres(ctx, cfg.Postgres, log))
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "unsupported sink type: %s", cfg.Type)
	}
}

// asSink keeps a failed constructor's typed nil out of the Sink interface.
func asSink[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func contentType(meta map[string]string) string {
	if ct := meta[MetaContentType]; ct != "" {
		return ct
	}
	return "application/octet-stream"
}
