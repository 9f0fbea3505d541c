// Package stacksampler is a continuous goroutine stack sampler built around
// a bounded, lock-free sample pool.
//
// # Architecture
//
// A collector snapshots every goroutine stack on a fixed interval and fills
// one sample per goroutine. Samples travel over a channel to an exporter,
// which copies them into a batch and immediately returns them to the pool.
// Batches are encoded as JSON or Avro, compressed, and written to a sink:
//
//	collector ──► chan *sample.Sample ──► exporter ──► encode ──► compress ──► sink
//	    ▲                                     │
//	    └────────────── samplepool ◄──────────┘
//
// The pool never allocates. The collector allocates a sample only when the
// pool is empty, and the exporter disposes of a sample only when the pool is
// full, so a steady-state sampler reuses the same set of samples.
//
// # Packages
//
//   - pkg/samplepool: bounded lock-free pool (Take/Return)
//   - pkg/lockfree: MPMC queue and atomic counters backing the pool
//   - pkg/sample: the sample record
//   - pkg/collector, pkg/exporter: producer and consumer
//   - pkg/encoding, pkg/compression, pkg/sink: export path
//   - pkg/config, pkg/logger, pkg/errors: ambient stack
//   - pkg/metrics, pkg/observability, pkg/hostinfo: monitoring
//   - internal/agent: wiring and lifecycle
//   - cmd/stacksampler: CLI
//
// # Quick Start
//
//	stacksampler run --sink file --output-dir ./profiles --interval 50ms
//	stacksampler bench --capacity 1024 -g 16 -d 10s
package stacksampler
