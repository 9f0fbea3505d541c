// Package metrics exposes sampler statistics to Prometheus.
//
// Nothing here is updated from the sampling path. The pool, collector and
// exporter keep their own atomic counters; a Collector reads them when
// Prometheus scrapes and turns them into const metrics.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(metrics.Sources{
//	    Pool:      pool.Stats,
//	    Collector: coll.Stats,
//	    Exporter:  exp.Stats,
//	}))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajitpratap0/stacksampler/pkg/collector"
	"github.com/ajitpratap0/stacksampler/pkg/exporter"
	"github.com/ajitpratap0/stacksampler/pkg/hostinfo"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

const namespace = "stacksampler"

// processStatsTimeout bounds the gopsutil lookups done during a scrape.
const processStatsTimeout = 2 * time.Second

// Sources are the stats readers scraped by a Collector. Nil sources are
// skipped.
type Sources struct {
	Pool      func() samplepool.Stats
	Collector func() collector.Stats
	Exporter  func() exporter.Stats
	Process   func(ctx context.Context) hostinfo.ProcessStats
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	poolCapacity *prometheus.Desc
	poolLen      *prometheus.Desc
	poolTakes    *prometheus.Desc
	poolReturns  *prometheus.Desc

	ticks   *prometheus.Desc
	samples *prometheus.Desc

	received    *prometheus.Desc
	batches     *prometheus.Desc
	bytes       *prometheus.Desc
	flushErrors *prometheus.Desc
	disposed    *prometheus.Desc

	rss        *prometheus.Desc
	threads    *prometheus.Desc
	cpuPercent *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Sources) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		src: src,

		poolCapacity: desc("pool", "capacity", "Maximum number of free samples the pool retains."),
		poolLen:      desc("pool", "free_samples", "Approximate number of free samples held by the pool."),
		poolTakes:    desc("pool", "takes_total", "Take calls by outcome.", "outcome"),
		poolReturns:  desc("pool", "returns_total", "Return calls by outcome.", "outcome"),

		ticks:   desc("collector", "ticks_total", "Sampling passes performed."),
		samples: desc("collector", "samples_total", "Samples produced by source or fate.", "result"),

		received:    desc("exporter", "samples_received_total", "Samples read by the exporter."),
		batches:     desc("exporter", "batches_total", "Batches written to the sink."),
		bytes:       desc("exporter", "bytes_total", "Payload bytes written to the sink."),
		flushErrors: desc("exporter", "flush_errors_total", "Flushes that failed."),
		disposed:    desc("exporter", "disposed_samples_total", "Samples discarded because the pool was full."),

		rss:        desc("process", "resident_memory_bytes", "Resident set size of the sampled process."),
		threads:    desc("process", "threads", "OS threads of the sampled process."),
		cpuPercent: desc("process", "cpu_percent", "CPU usage of the sampled process in percent."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.poolCapacity, c.poolLen, c.poolTakes, c.poolReturns,
		c.ticks, c.samples,
		c.received, c.batches, c.bytes, c.flushErrors, c.disposed,
		c.rss, c.threads, c.cpuPercent,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Pool != nil {
		s := c.src.Pool()
		gauge(ch, c.poolCapacity, float64(s.Capacity))
		gauge(ch, c.poolLen, float64(s.Len))
		counter(ch, c.poolTakes, s.Hits, "hit")
		counter(ch, c.poolTakes, s.Misses, "miss")
		counter(ch, c.poolReturns, s.Retained, "retained")
		counter(ch, c.poolReturns, s.Rejected, "rejected")
	}
	if c.src.Collector != nil {
		s := c.src.Collector()
		counter(ch, c.ticks, s.Ticks)
		counter(ch, c.samples, s.Captured, "captured")
		counter(ch, c.samples, s.Dropped, "dropped")
		counter(ch, c.samples, s.Allocated, "allocated")
		counter(ch, c.samples, s.Reused, "reused")
	}
	if c.src.Exporter != nil {
		s := c.src.Exporter()
		counter(ch, c.received, s.Received)
		counter(ch, c.batches, s.Batches)
		counter(ch, c.bytes, s.Bytes)
		counter(ch, c.flushErrors, s.FlushErrors)
		counter(ch, c.disposed, s.Disposed)
	}
	if c.src.Process != nil {
		ctx, cancel := context.WithTimeout(context.Background(), processStatsTimeout)
		s := c.src.Process(ctx)
		cancel()
		gauge(ch, c.rss, float64(s.RSSBytes))
		gauge(ch, c.threads, float64(s.NumThreads))
		gauge(ch, c.cpuPercent, s.CPUPercent)
	}
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}
