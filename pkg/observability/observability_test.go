package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestTraceBatch_RecordsSpan(t *testing.T) {
	rec := withRecorder(t)

	err := TraceBatch(context.Background(), "exporter.flush", 42, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "exporter.flush", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	var size int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "batch.size" {
			size = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(42), size)
}

func TestTraceBatch_RecordsError(t *testing.T) {
	rec := withRecorder(t)
	boom := errors.New("sink unavailable")

	err := TraceBatch(context.Background(), "exporter.flush", 1, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "sink unavailable", spans[0].Status().Description)
	assert.NotEmpty(t, spans[0].Events(), "error recorded as span event")
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.TracingConfig{}, "test", nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WritesSpansOnShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, ServiceName: "stacksampler-test", SampleRatio: 1}
	p, err := Setup(context.Background(), cfg, "v0.0.1", &buf, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "exporter.flush")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"exporter.flush"`)
	assert.Contains(t, buf.String(), "stacksampler-test")
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1.5).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), samplerFor(0.25).Description())
}

func TestRegisterPoolGauges_Noop(t *testing.T) {
	pool, err := samplepool.New[int](4)
	require.NoError(t, err)

	reg, err := RegisterPoolGauges(noop.NewMeterProvider(), pool.Stats)
	require.NoError(t, err)
	assert.NoError(t, reg.Unregister())
}

func fullPool(t *testing.T) *samplepool.Pool[int] {
	t.Helper()
	pool, err := samplepool.New[int](4)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, ok := pool.Return(new(int))
		require.True(t, ok)
	}
	_, ok := pool.Return(new(int))
	require.False(t, ok)
	_, ok = pool.Take()
	require.True(t, ok)
	return pool
}

// int64Metric returns the single data point recorded for name.
func int64Metric(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch d := m.Data.(type) {
			case metricdata.Gauge[int64]:
				require.Len(t, d.DataPoints, 1, name)
				return d.DataPoints[0].Value
			case metricdata.Sum[int64]:
				require.Len(t, d.DataPoints, 1, name)
				return d.DataPoints[0].Value
			default:
				t.Fatalf("unexpected data type %T for %s", m.Data, name)
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestRegisterPoolGauges_Collected(t *testing.T) {
	pool := fullPool(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	reg, err := RegisterPoolGauges(mp, pool.Stats)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(3), int64Metric(t, rm, "stacksampler.pool.occupancy"))
	assert.Equal(t, int64(4), int64Metric(t, rm, "stacksampler.pool.capacity"))
	assert.Equal(t, int64(1), int64Metric(t, rm, "stacksampler.pool.rejected"))

	// Values are read at collection time.
	_, ok := pool.Take()
	require.True(t, ok)
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(2), int64Metric(t, rm, "stacksampler.pool.occupancy"))

	require.NoError(t, reg.Unregister())
}

func TestSetup_ExportsPoolGauges(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, ServiceName: "stacksampler-test", SampleRatio: 1, MetricInterval: time.Hour}
	p, err := Setup(context.Background(), cfg, "v0.0.1", &buf, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.MeterProvider())
	assert.Same(t, p.MeterProvider(), otel.GetMeterProvider(), "global meter provider installed")

	// A nil provider registers on the global one installed above.
	reg, err := RegisterPoolGauges(nil, fullPool(t).Stats)
	require.NoError(t, err)

	// Shutdown exports a final snapshot even before the first interval.
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "stacksampler.pool.occupancy")
	assert.Contains(t, buf.String(), "stacksampler.pool.rejected")
	_ = reg.Unregister()
}
