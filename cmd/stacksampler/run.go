package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/ajitpratap0/stacksampler/internal/agent"
	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/logger"
	"github.com/ajitpratap0/stacksampler/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(load configLoader) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample goroutine stacks until interrupted",
		Long: `Run the sampler until SIGINT or SIGTERM, or for a fixed --duration.
On shutdown the last partial batch is flushed before the sink is closed.

Example:
  stacksampler run --sink file --output-dir ./profiles --interval 50ms
  STACKSAMPLER_SINK_S3_BUCKET=profiles stacksampler run -c sampler.yaml --sink s3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runAgent(ctx, cfg)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config, opts ...agent.Option) error {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("component", "cli"))

	tracing, err := observability.Setup(ctx, cfg.Tracing, version, os.Stdout, log)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to set up tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	a, err := agent.New(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}

	if mp := tracing.MeterProvider(); mp != nil {
		gauges, err := observability.RegisterPoolGauges(mp, a.PoolStats)
		if err != nil {
			log.Warn("pool gauges unavailable", zap.Error(err))
		} else {
			defer func() { _ = gauges.Unregister() }()
		}
	}

	if cfg.Metrics.Enabled {
		srv, addr, err := startMetricsServer(cfg.Metrics, a.MetricsCollector(), log)
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				log.Warn("failed to close sink", zap.Error(cerr))
			}
			return err
		}
		log.Info("serving metrics", zap.String("address", addr.String()), zap.String("path", cfg.Metrics.Path))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	return a.Run(ctx)
}

// startMetricsServer serves the Prometheus registry on cfg.Address. At most
// cfg.MaxConnections scrapes are served at once.
func startMetricsServer(cfg config.MetricsConfig, sampler prometheus.Collector, log *zap.Logger) (*http.Server, net.Addr, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(sampler); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to register sampler metrics")
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          zap.NewStdLog(log),
	}))

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to listen for metrics").
			WithDetail("address", cfg.Address)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv, ln.Addr(), nil
}
