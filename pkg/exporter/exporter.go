// Package exporter is the consumer side of the sampling pipeline. It copies
// incoming samples into a batch, hands each sample back to the sample pool
// straight away, and periodically writes the batch to a sink as one
// encoded and compressed object.
package exporter

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/compression"
	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/encoding"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/hostinfo"
	"github.com/ajitpratap0/stacksampler/pkg/lockfree"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
	"github.com/ajitpratap0/stacksampler/pkg/observability"
	"github.com/ajitpratap0/stacksampler/pkg/sample"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
	"github.com/ajitpratap0/stacksampler/pkg/sink"
)

// shutdownFlushTimeout bounds the final flush once the run context is done.
const shutdownFlushTimeout = 10 * time.Second

// Stats counts exporter activity since creation.
type Stats struct {
	Received    uint64 // Samples read from the input channel
	Batches     uint64 // Objects written to the sink
	Bytes       uint64 // Payload bytes written to the sink
	FlushErrors uint64 // Flushes that failed to encode, compress or write
	Disposed    uint64 // Samples the pool refused after export
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithHost stamps every batch with the host name, PID and metadata of info.
func WithHost(info *hostinfo.Info) Option {
	return func(e *Exporter) {
		if info == nil {
			return
		}
		e.batch.Host = info.Hostname
		e.batch.PID = info.PID
		e.batch.Meta = info.Meta()
	}
}

// WithClock replaces the clock used for object names.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// Exporter drains samples from a channel into batches and writes them to a
// sink. Run must be called from one goroutine; Stats may be read at any time.
type Exporter struct {
	cfg        config.ExporterConfig
	pool       *samplepool.Pool[sample.Sample]
	in         <-chan *sample.Sample
	encoder    encoding.Encoder
	compressor compression.Compressor
	sink       sink.Sink
	logger     *zap.Logger
	now        func() time.Time

	batch *encoding.Batch

	received    lockfree.AtomicCounter
	batches     lockfree.AtomicCounter
	bytes       lockfree.AtomicCounter
	flushErrors lockfree.AtomicCounter
	disposed    lockfree.AtomicCounter
}

// New creates an exporter reading from in.
func New(
	cfg config.ExporterConfig,
	pool *samplepool.Pool[sample.Sample],
	in <-chan *sample.Sample,
	enc encoding.Encoder,
	comp compression.Compressor,
	snk sink.Sink,
	log *zap.Logger,
	opts ...Option,
) (*Exporter, error) {
	if pool == nil || in == nil || enc == nil || comp == nil || snk == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "exporter requires a pool, input channel, encoder, compressor and sink")
	}
	if cfg.BatchSize <= 0 || cfg.FlushInterval <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "exporter batch_size and flush_interval must be positive").
			WithDetail("batch_size", cfg.BatchSize).
			WithDetail("flush_interval", cfg.FlushInterval)
	}

	e := &Exporter{
		cfg:        cfg,
		pool:       pool,
		in:         in,
		encoder:    enc,
		compressor: comp,
		sink:       snk,
		logger:     logger.OrNop(log).With(zap.String("component", "exporter")),
		now:        time.Now,
		batch:      &encoding.Batch{Records: make([]encoding.Record, 0, cfg.BatchSize)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run consumes samples until in is closed or ctx is done, then flushes what
// is left. Samples still buffered in the channel at cancellation are
// drained into the final batch. Run returns nil on a clean stop.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	e.logger.Info("exporter started",
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Duration("flush_interval", e.cfg.FlushInterval),
		zap.String("format", string(e.encoder.Format())),
		zap.String("compression", string(e.compressor.Algorithm())),
		zap.String("sink", e.sink.Type()))

	for {
		select {
		case s, ok := <-e.in:
			if !ok {
				e.shutdown(ctx)
				return nil
			}
			e.accept(s)
			if e.batch.Len() >= e.cfg.BatchSize {
				_ = e.Flush(ctx)
			}
		case <-ticker.C:
			_ = e.Flush(ctx)
		case <-ctx.Done():
			e.drain(ctx)
			e.shutdown(ctx)
			return nil
		}
	}
}

// Flush writes the current batch to the sink. An empty batch is a no-op.
// Failures are logged and counted; the batch is discarded either way.
func (e *Exporter) Flush(ctx context.Context) error {
	n := e.batch.Len()
	if n == 0 {
		return nil
	}
	defer e.batch.Reset()

	name := e.objectName(e.now())
	err := observability.TraceBatch(ctx, "exporter.flush", n, func(ctx context.Context) error {
		return e.write(ctx, name)
	},
		attribute.String("object.name", name),
		attribute.String("sink.type", e.sink.Type()),
	)
	if err != nil {
		e.flushErrors.Increment()
		e.logger.Error("flush failed",
			zap.String("object", name),
			zap.Int("records", n),
			zap.Error(err))
		return err
	}
	return nil
}

// Stats returns a snapshot of the exporter counters.
func (e *Exporter) Stats() Stats {
	return Stats{
		Received:    e.received.Get(),
		Batches:     e.batches.Get(),
		Bytes:       e.bytes.Get(),
		FlushErrors: e.flushErrors.Get(),
		Disposed:    e.disposed.Get(),
	}
}

// accept copies s into the batch and gives it back to the pool.
func (e *Exporter) accept(s *sample.Sample) {
	e.received.Increment()
	if s == nil {
		return
	}
	e.batch.Add(s)
	if _, ok := e.pool.Return(s); !ok {
		e.disposed.Increment()
	}
}

// drain moves samples already buffered in the channel into the batch.
func (e *Exporter) drain(ctx context.Context) {
	for {
		select {
		case s, ok := <-e.in:
			if !ok {
				return
			}
			e.accept(s)
			if e.batch.Len() >= e.cfg.BatchSize {
				e.finalFlush(ctx)
			}
		default:
			return
		}
	}
}

func (e *Exporter) shutdown(ctx context.Context) {
	e.finalFlush(ctx)
	st := e.Stats()
	e.logger.Info("exporter stopped",
		zap.Uint64("received", st.Received),
		zap.Uint64("batches", st.Batches),
		zap.Uint64("bytes", st.Bytes),
		zap.Uint64("flush_errors", st.FlushErrors),
		zap.Uint64("disposed", st.Disposed))
}

// finalFlush flushes with a context that outlives cancellation of ctx.
func (e *Exporter) finalFlush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
	defer cancel()
	_ = e.Flush(ctx)
}

func (e *Exporter) write(ctx context.Context, name string) error {
	encoded, err := e.encoder.Encode(e.batch)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode batch")
	}
	payload, err := e.compressor.Compress(encoded)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "compress batch")
	}

	meta := map[string]string{
		sink.MetaContentType: e.encoder.ContentType(),
		sink.MetaFormat:      string(e.encoder.Format()),
		sink.MetaCompression: string(e.compressor.Algorithm()),
		sink.MetaRecords:     strconv.Itoa(e.batch.Len()),
	}
	if e.batch.Host != "" {
		meta[sink.MetaHost] = e.batch.Host
	}

	if err := e.sink.Write(ctx, name, payload, meta); err != nil {
		return err
	}

	e.batches.Increment()
	e.bytes.Add(uint64(len(payload)))
	e.logger.Debug("batch written",
		zap.String("object", name),
		zap.Int("records", e.batch.Len()),
		zap.Int("encoded_bytes", len(encoded)),
		zap.Int("payload_bytes", len(payload)))
	return nil
}

// objectName builds <prefix>/<yyyy>/<mm>/<dd>/profile-<unixnano>.<format>[.<algo>].
func (e *Exporter) objectName(t time.Time) string {
	t = t.UTC()
	file := fmt.Sprintf("profile-%d.%s", t.UnixNano(), e.encoder.Format())
	if ext := e.compressor.Extension(); ext != "" {
		file += "." + ext
	}
	return path.Join(e.cfg.Prefix, t.Format("2006/01/02"), file)
}
