// Package agent wires the sampling pipeline together: a sample pool shared
// by a collector that captures goroutine stacks and an exporter that writes
// them to a sink.
//
//	a, err := agent.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx) // blocks until ctx is done
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/stacksampler/pkg/collector"
	"github.com/ajitpratap0/stacksampler/pkg/compression"
	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/encoding"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/exporter"
	"github.com/ajitpratap0/stacksampler/pkg/hostinfo"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
	"github.com/ajitpratap0/stacksampler/pkg/metrics"
	"github.com/ajitpratap0/stacksampler/pkg/sample"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
	"github.com/ajitpratap0/stacksampler/pkg/sink"
)

// Stats aggregates the statistics of every pipeline component.
type Stats struct {
	Uptime    time.Duration // Time since New
	Pool      samplepool.Stats
	Collector collector.Stats
	Exporter  exporter.Stats
}

// Option configures an Agent.
type Option func(*options)

type options struct {
	sink sink.Sink
}

// WithSink makes the agent write to s instead of opening the configured
// sink. The agent still closes s when Run returns or Close is called.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// Agent runs one collector and one exporter over a shared sample pool.
type Agent struct {
	cfg    *config.Config
	logger *zap.Logger
	host   *hostinfo.Info
	proc   *hostinfo.Process

	pool      *samplepool.Pool[sample.Sample]
	samples   chan *sample.Sample
	collector *collector.Collector
	exporter  *exporter.Exporter
	sink      sink.Sink

	startTime time.Time
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds every component. The sink is opened here so
// that connection and credential problems surface before sampling starts.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "agent requires a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log = logger.OrNop(log)

	host, err := hostinfo.Collect(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to collect host info")
	}
	proc, err := hostinfo.Self(ctx)
	if err != nil {
		log.Warn("process stats unavailable", zap.Error(err))
	}

	pool, err := samplepool.New[sample.Sample](cfg.Pool.Capacity)
	if err != nil {
		return nil, err
	}
	enc, err := encoding.NewEncoder(encoding.Format(cfg.Exporter.Format))
	if err != nil {
		return nil, err
	}
	comp, err := compression.NewCompressor(cfg.Exporter.CompressionConfig())
	if err != nil {
		return nil, err
	}

	snk := o.sink
	if snk == nil {
		if snk, err = sink.Open(ctx, cfg.Sink, log); err != nil {
			return nil, err
		}
	}

	samples := make(chan *sample.Sample, cfg.Collector.ChannelSize)
	coll, err := collector.New(cfg.Collector, pool, samples, log)
	if err != nil {
		_ = snk.Close()
		return nil, err
	}
	exp, err := exporter.New(cfg.Exporter, pool, samples, enc, comp, snk, log, exporter.WithHost(host))
	if err != nil {
		_ = snk.Close()
		return nil, err
	}

	return &Agent{
		cfg:       cfg,
		logger:    log.With(zap.String("host", host.Hostname)),
		host:      host,
		proc:      proc,
		pool:      pool,
		samples:   samples,
		collector: coll,
		exporter:  exp,
		sink:      snk,
		startTime: time.Now(),
	}, nil
}

// Run samples until ctx is done. After the collector stops, the sample
// channel is closed so the exporter drains it and writes a final batch
// before the sink is closed. Run must be called at most once.
func (a *Agent) Run(ctx context.Context) (err error) {
	a.logger.Info("agent started",
		zap.Int("pool_capacity", a.pool.Capacity()),
		zap.String("sink", a.sink.Type()),
		zap.String("format", a.cfg.Exporter.Format),
		zap.String("compression", a.cfg.Exporter.Compression))

	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
		st := a.Stats()
		a.logger.Info("agent stopped",
			zap.Duration("uptime", st.Uptime),
			zap.Uint64("captured", st.Collector.Captured),
			zap.Uint64("dropped", st.Collector.Dropped),
			zap.Uint64("batches", st.Exporter.Batches),
			zap.Uint64("flush_errors", st.Exporter.FlushErrors))
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(a.samples)
		return a.collector.Run(ctx)
	})
	g.Go(func() error {
		// The exporter stops when the channel closes, not on ctx, so
		// nothing the collector produced is left behind.
		return a.exporter.Run(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Close releases the sink. Run closes it on return, so Close is only needed
// for an agent that is never run. Calling Close more than once is safe.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		if err := a.sink.Close(); err != nil {
			a.closeErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to close sink")
		}
	})
	return a.closeErr
}

// Stats returns a snapshot of all component statistics.
func (a *Agent) Stats() Stats {
	return Stats{
		Uptime:    time.Since(a.startTime),
		Pool:      a.pool.Stats(),
		Collector: a.collector.Stats(),
		Exporter:  a.exporter.Stats(),
	}
}

// Host returns the host description stamped on every batch.
func (a *Agent) Host() *hostinfo.Info {
	return a.host
}

// MetricsCollector returns a Prometheus collector over the agent's stats.
func (a *Agent) MetricsCollector() *metrics.Collector {
	src := metrics.Sources{
		Pool:      a.pool.Stats,
		Collector: a.collector.Stats,
		Exporter:  a.exporter.Stats,
	}
	if a.proc != nil {
		src.Process = a.proc.Stats
	}
	return metrics.NewCollector(src)
}

// PoolStats reports pool statistics, for observable gauges.
func (a *Agent) PoolStats() samplepool.Stats {
	return a.pool.Stats()
}
