package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

// PoolStatsFunc reports the current pool statistics.
type PoolStatsFunc func() samplepool.Stats

// RegisterPoolGauges registers observable gauges for pool occupancy on mp,
// or on the global meter provider when mp is nil. The values are read at
// collection time only. The returned registration must be unregistered when
// the pool goes away.
func RegisterPoolGauges(mp metric.MeterProvider, stats PoolStatsFunc) (metric.Registration, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	occupancy, err := meter.Int64ObservableGauge("stacksampler.pool.occupancy",
		metric.WithDescription("Free samples currently held by the pool"),
		metric.WithUnit("{sample}"))
	if err != nil {
		return nil, err
	}
	capacity, err := meter.Int64ObservableGauge("stacksampler.pool.capacity",
		metric.WithDescription("Maximum number of free samples the pool retains"),
		metric.WithUnit("{sample}"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64ObservableCounter("stacksampler.pool.rejected",
		metric.WithDescription("Samples the pool refused because it was full"),
		metric.WithUnit("{sample}"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(occupancy, int64(s.Len))
		o.ObserveInt64(capacity, int64(s.Capacity))
		o.ObserveInt64(rejected, int64(s.Rejected))
		return nil
	}, occupancy, capacity, rejected)
}
