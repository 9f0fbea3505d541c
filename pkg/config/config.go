// Package config defines the stacksampler agent configuration.
//
// The configuration is organized into sections:
//   - Pool: sample pool capacity
//   - Collector: sampling interval and stack depth
//   - Exporter: batching, encoding and compression
//   - Sink: where encoded batches are written
//   - Logging, Metrics, Tracing: ambient observability
//
// Example usage:
//
//	cfg, err := config.Load("stacksampler.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/stacksampler/pkg/compression"
	"github.com/ajitpratap0/stacksampler/pkg/encoding"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
)

// Sink types.
const (
	SinkFile     = "file"
	SinkS3       = "s3"
	SinkGCS      = "gcs"
	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
)

// Config is the complete agent configuration.
type Config struct {
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Exporter  ExporterConfig  `yaml:"exporter" json:"exporter"`
	Sink      SinkConfig      `yaml:"sink" json:"sink"`
	Logging   logger.Config   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// PoolConfig sizes the sample pool.
type PoolConfig struct {
	// Capacity is the maximum number of idle samples retained for reuse
	Capacity int `yaml:"capacity" json:"capacity"`
}

// CollectorConfig controls stack sampling.
type CollectorConfig struct {
	// Interval between sampling ticks
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MaxFrames caps the recorded depth of each stack
	MaxFrames int `yaml:"max_frames" json:"max_frames"`
	// MaxSamplesPerTick caps the number of goroutines recorded per tick
	MaxSamplesPerTick int `yaml:"max_samples_per_tick" json:"max_samples_per_tick"`
	// ChannelSize is the buffer between collector and exporter
	ChannelSize int `yaml:"channel_size" json:"channel_size"`
	// Labels are attached to every sample
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// ExporterConfig controls batching and serialization.
type ExporterConfig struct {
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval    time.Duration `yaml:"flush_interval" json:"flush_interval"`
	Format           string        `yaml:"format" json:"format"`
	Compression      string        `yaml:"compression" json:"compression"`
	CompressionLevel string        `yaml:"compression_level" json:"compression_level"`
	// Prefix is the leading path of every object name
	Prefix string `yaml:"prefix" json:"prefix"`
}

// SinkConfig selects and configures the sink.
type SinkConfig struct {
	Type     string         `yaml:"type" json:"type"`
	File     FileConfig     `yaml:"file" json:"file"`
	S3       S3Config       `yaml:"s3" json:"s3"`
	GCS      GCSConfig      `yaml:"gcs" json:"gcs"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// FileConfig configures the local file sink.
type FileConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// S3Config configures the S3 sink.
type S3Config struct {
	Bucket      string `yaml:"bucket" json:"bucket"`
	Region      string `yaml:"region" json:"region"`
	PartSizeMB  int64  `yaml:"part_size_mb" json:"part_size_mb"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
}

// GCSConfig configures the Google Cloud Storage sink.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic    string   `yaml:"topic" json:"topic"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// PostgresConfig configures the PostgreSQL sink.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" json:"dsn"`
	Table    string `yaml:"table" json:"table"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Address        string `yaml:"address" json:"address"`
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// TracingConfig controls OpenTelemetry tracing and metric export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
	// MetricInterval is how often metric snapshots are exported
	MetricInterval time.Duration `yaml:"metric_interval" json:"metric_interval"`
}

// Default returns a configuration that samples every 100ms into a local
// directory.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{Capacity: 1024},
		Collector: CollectorConfig{
			Interval:          100 * time.Millisecond,
			MaxFrames:         64,
			MaxSamplesPerTick: 256,
			ChannelSize:       1024,
		},
		Exporter: ExporterConfig{
			BatchSize:        512,
			FlushInterval:    10 * time.Second,
			Format:           string(encoding.JSON),
			Compression:      string(compression.Zstd),
			CompressionLevel: "default",
			Prefix:           "profiles",
		},
		Sink: SinkConfig{
			Type: SinkFile,
			File: FileConfig{Directory: "./profiles"},
			S3: S3Config{
				Region:      "us-east-1",
				PartSizeMB:  5,
				Concurrency: 2,
			},
			Kafka: KafkaConfig{ClientID: "stacksampler"},
			Postgres: PostgresConfig{
				Table:    "profile_batches",
				MaxConns: 4,
			},
		},
		Logging: logger.Config{Level: "info", Encoding: "json"},
		Metrics: MetricsConfig{
			Address:        ":9464",
			Path:           "/metrics",
			MaxConnections: 16,
		},
		Tracing: TracingConfig{
			ServiceName:    "stacksampler",
			SampleRatio:    1,
			MetricInterval: 30 * time.Second,
		},
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Pool.Capacity < 0 {
		return invalid("pool.capacity", "must not be negative", c.Pool.Capacity)
	}

	col := c.Collector
	if col.Interval <= 0 {
		return invalid("collector.interval", "must be positive", col.Interval)
	}
	if col.MaxFrames <= 0 {
		return invalid("collector.max_frames", "must be positive", col.MaxFrames)
	}
	if col.MaxSamplesPerTick <= 0 {
		return invalid("collector.max_samples_per_tick", "must be positive", col.MaxSamplesPerTick)
	}
	if col.ChannelSize < 0 {
		return invalid("collector.channel_size", "must not be negative", col.ChannelSize)
	}

	exp := c.Exporter
	if exp.BatchSize <= 0 {
		return invalid("exporter.batch_size", "must be positive", exp.BatchSize)
	}
	if exp.FlushInterval <= 0 {
		return invalid("exporter.flush_interval", "must be positive", exp.FlushInterval)
	}
	switch encoding.Format(exp.Format) {
	case encoding.JSON, encoding.Avro:
	default:
		return invalid("exporter.format", "must be json or avro", exp.Format)
	}
	if !knownAlgorithm(exp.Compression) {
		return invalid("exporter.compression", "unsupported algorithm", exp.Compression)
	}
	if _, ok := compression.ParseLevel(exp.CompressionLevel); !ok {
		return invalid("exporter.compression_level", "must be fastest, default, better or best", exp.CompressionLevel)
	}

	if err := c.Sink.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return invalid("metrics.address", "is required when metrics are enabled", c.Metrics.Address)
		}
		if c.Metrics.MaxConnections <= 0 {
			return invalid("metrics.max_connections", "must be positive", c.Metrics.MaxConnections)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return invalid("tracing.sample_ratio", "must be between 0 and 1", c.Tracing.SampleRatio)
	}
	if c.Tracing.MetricInterval < 0 {
		return invalid("tracing.metric_interval", "must not be negative", c.Tracing.MetricInterval)
	}
	return nil
}

// Validate checks the settings of the selected sink type.
func (s *SinkConfig) Validate() error {
	switch s.Type {
	case SinkFile:
		if s.File.Directory == "" {
			return invalid("sink.file.directory", "is required", s.File.Directory)
		}
	case SinkS3:
		if s.S3.Bucket == "" {
			return invalid("sink.s3.bucket", "is required", s.S3.Bucket)
		}
		if s.S3.Region == "" {
			return invalid("sink.s3.region", "is required", s.S3.Region)
		}
	case SinkGCS:
		if s.GCS.Bucket == "" {
			return invalid("sink.gcs.bucket", "is required", s.GCS.Bucket)
		}
	case SinkKafka:
		if len(s.Kafka.Brokers) == 0 {
			return invalid("sink.kafka.brokers", "at least one broker is required", s.Kafka.Brokers)
		}
		if s.Kafka.Topic == "" {
			return invalid("sink.kafka.topic", "is required", s.Kafka.Topic)
		}
	case SinkPostgres:
		if s.Postgres.DSN == "" {
			return invalid("sink.postgres.dsn", "is required", "")
		}
		if s.Postgres.Table == "" {
			return invalid("sink.postgres.table", "is required", s.Postgres.Table)
		}
	default:
		return invalid("sink.type", "must be one of file, s3, gcs, kafka, postgres", s.Type)
	}
	return nil
}

// CompressionConfig converts the exporter settings for package compression.
func (e *ExporterConfig) CompressionConfig() *compression.Config {
	level, _ := compression.ParseLevel(e.CompressionLevel)
	return &compression.Config{
		Algorithm: compression.Algorithm(e.Compression),
		Level:     level,
	}
}

func knownAlgorithm(name string) bool {
	for _, a := range compression.Algorithms {
		if string(a) == name {
			return true
		}
	}
	return false
}

func invalid(field, reason string, value interface{}) error {
	return errors.Newf(errors.ErrorTypeConfig, "%s %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value)
}
