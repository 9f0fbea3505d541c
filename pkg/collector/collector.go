// Package collector is the producer side of the sampling pipeline. On every
// tick it snapshots all goroutine stacks, fills one sample per goroutine and
// offers it to the exporter without ever blocking.
//
// Samples come from the sample pool when one is free; otherwise the
// collector allocates a new one. A sample the exporter cannot accept in time
// goes straight back to the pool, or is dropped if the pool is full.
package collector

import (
	"bytes"
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/lockfree"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
	"github.com/ajitpratap0/stacksampler/pkg/sample"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

const (
	initialDumpBytes = 64 << 10
	maxDumpBytes     = 64 << 20
	maxInterned      = 1 << 16
)

// Stats counts collector activity since creation.
type Stats struct {
	Ticks     uint64 // Sampling passes
	Captured  uint64 // Samples handed to the exporter
	Allocated uint64 // Samples allocated because the pool was empty
	Reused    uint64 // Samples taken from the pool
	Dropped   uint64 // Samples the exporter had no room for
}

// Collector samples goroutine stacks on a fixed interval. Run and Tick must
// not be called concurrently; Stats may be read at any time.
type Collector struct {
	cfg    config.CollectorConfig
	pool   *samplepool.Pool[sample.Sample]
	out    chan<- *sample.Sample
	logger *zap.Logger

	buf   []byte
	names map[string]string

	ticks     lockfree.AtomicCounter
	captured  lockfree.AtomicCounter
	allocated lockfree.AtomicCounter
	reused    lockfree.AtomicCounter
	dropped   lockfree.AtomicCounter
}

// New creates a collector that sends filled samples on out.
func New(cfg config.CollectorConfig, pool *samplepool.Pool[sample.Sample], out chan<- *sample.Sample, log *zap.Logger) (*Collector, error) {
	if pool == nil || out == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "collector requires a pool and an output channel")
	}
	if cfg.Interval <= 0 || cfg.MaxFrames <= 0 || cfg.MaxSamplesPerTick <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "collector interval, max_frames and max_samples_per_tick must be positive").
			WithDetail("interval", cfg.Interval).
			WithDetail("max_frames", cfg.MaxFrames).
			WithDetail("max_samples_per_tick", cfg.MaxSamplesPerTick)
	}
	return &Collector{
		cfg:    cfg,
		pool:   pool,
		out:    out,
		logger: logger.OrNop(log).With(zap.String("component", "collector")),
		buf:    make([]byte, initialDumpBytes),
		names:  make(map[string]string, 1024),
	}, nil
}

// Run samples until ctx is done. It returns nil on cancellation.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Info("collector started",
		zap.Duration("interval", c.cfg.Interval),
		zap.Int("max_frames", c.cfg.MaxFrames),
		zap.Int("max_samples_per_tick", c.cfg.MaxSamplesPerTick))

	for {
		select {
		case <-ctx.Done():
			s := c.Stats()
			c.logger.Info("collector stopped",
				zap.Uint64("ticks", s.Ticks),
				zap.Uint64("captured", s.Captured),
				zap.Uint64("dropped", s.Dropped))
			return nil
		case now := <-ticker.C:
			before := c.dropped.Get()
			c.Tick(now)
			if d := c.dropped.Get() - before; d > 0 {
				c.logger.Warn("exporter backlog, samples dropped", zap.Uint64("dropped", d))
			}
		}
	}
}

// Tick performs one sampling pass and returns the number of samples
// produced, whether or not the exporter accepted them.
func (c *Collector) Tick(now time.Time) int {
	c.ticks.Increment()
	return c.tickDump(now, c.snapshot())
}

// tickDump turns one goroutine dump into samples.
func (c *Collector) tickDump(now time.Time, dump []byte) int {
	wall := c.cfg.Interval.Nanoseconds()

	produced := 0
	var cur *sample.Sample
	var fn []byte

	for len(dump) > 0 {
		var line []byte
		line, dump = nextLine(dump)

		switch {
		case len(line) == 0:
			if cur != nil {
				c.emit(cur)
				cur = nil
			}
		case bytes.HasPrefix(line, goroutinePrefix):
			if cur != nil {
				c.emit(cur)
				cur = nil
			}
			if produced >= c.cfg.MaxSamplesPerTick {
				return produced
			}
			id, state, ok := parseHeader(line)
			if !ok {
				continue
			}
			cur = c.acquire()
			cur.Timestamp = now
			cur.GoroutineID = id
			cur.State = c.intern(state)
			cur.SetValue(sample.ValueWallNanos, wall)
			cur.SetValue(sample.ValueCount, 1)
			for k, v := range c.cfg.Labels {
				cur.SetLabel(k, v)
			}
			produced++
			fn = nil
		case cur == nil:
		case line[0] == '\t':
			if fn != nil {
				file, lineNo := parseLocation(line)
				cur.AddFrame(c.intern(fn), c.intern(file), lineNo)
				fn = nil
			}
		case bytes.HasPrefix(line, createdByPrefix):
			fn = nil
		case bytes.HasPrefix(line, elidedPrefix):
			cur.Truncated = true
		default:
			fn = trimArgs(line)
		}
	}
	if cur != nil {
		c.emit(cur)
	}
	return produced
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Ticks:     c.ticks.Get(),
		Captured:  c.captured.Get(),
		Allocated: c.allocated.Get(),
		Reused:    c.reused.Get(),
		Dropped:   c.dropped.Get(),
	}
}

// acquire takes a sample from the pool, allocating one if the pool is empty.
func (c *Collector) acquire() *sample.Sample {
	if s, ok := c.pool.Take(); ok {
		c.reused.Increment()
		s.Reset()
		return s
	}
	c.allocated.Increment()
	return sample.New(c.cfg.MaxFrames)
}

// emit offers s to the exporter. On a full channel s goes back to the pool;
// if the pool rejects it, it is left for the garbage collector.
func (c *Collector) emit(s *sample.Sample) {
	select {
	case c.out <- s:
		c.captured.Increment()
	default:
		c.dropped.Increment()
		c.pool.Return(s)
	}
}

// snapshot dumps all goroutine stacks into the reusable buffer, growing it
// until the dump fits or the size limit is reached.
func (c *Collector) snapshot() []byte {
	for {
		n := runtime.Stack(c.buf, true)
		if n < len(c.buf) || len(c.buf) >= maxDumpBytes {
			return c.buf[:n]
		}
		c.buf = make([]byte, 2*len(c.buf))
	}
}

// intern returns a string for b that stays valid after the dump buffer is
// reused. Repeated names share one allocation.
func (c *Collector) intern(b []byte) string {
	if s, ok := c.names[string(b)]; ok {
		return s
	}
	s := string(b)
	if len(c.names) < maxInterned {
		c.names[s] = s
	}
	return s
}
