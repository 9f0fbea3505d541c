// Command stacksampler samples the goroutine stacks of its own process and
// ships them to a configurable sink. It also benchmarks the sample pool.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/stacksampler/pkg/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configLoader resolves the effective configuration: defaults, then the
// config file, then STACKSAMPLER_* variables and flags.
type configLoader func() (*config.Config, error)

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var configFile string

	root := &cobra.Command{
		Use:   "stacksampler",
		Short: "Continuous goroutine stack sampler",
		Long: `stacksampler periodically captures every goroutine stack of the running
process, batches the samples and writes them as compressed JSON or Avro
objects to a file tree, S3, GCS, Kafka or PostgreSQL.

Samples are recycled through a bounded lock-free pool, so a steady-state
sampler allocates almost nothing per tick.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")
	bindFlags(root, v)

	load := func() (*config.Config, error) {
		cfg := config.Default()
		if configFile != "" {
			var err error
			if cfg, err = config.Load(configFile); err != nil {
				return nil, err
			}
		}
		cfg.Overlay(v)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(
		newRunCommand(load),
		newBenchCommand(),
		newConfigCommand(load),
		newVersionCommand(),
	)
	return root
}

// bindFlags registers the persistent overlay flags and binds each to its
// configuration key.
func bindFlags(root *cobra.Command, v *viper.Viper) {
	d := config.Default()
	f := root.PersistentFlags()

	f.Int("pool-capacity", d.Pool.Capacity, "Maximum number of idle samples kept for reuse")
	f.Duration("interval", d.Collector.Interval, "Sampling interval")
	f.Int("max-frames", d.Collector.MaxFrames, "Maximum frames recorded per goroutine")
	f.Int("batch-size", d.Exporter.BatchSize, "Samples per exported object")
	f.Duration("flush-interval", d.Exporter.FlushInterval, "Maximum time between exports")
	f.String("format", d.Exporter.Format, "Object encoding (json, avro)")
	f.String("compression", d.Exporter.Compression, "Object compression (none, gzip, deflate, snappy, s2, zstd, lz4)")
	f.String("compression-level", d.Exporter.CompressionLevel, "Compression level (fastest, default, better, best)")
	f.String("sink", d.Sink.Type, "Sink type (file, s3, gcs, kafka, postgres)")
	f.String("output-dir", d.Sink.File.Directory, "Directory of the file sink")
	f.String("log-level", d.Logging.Level, "Log level (debug, info, warn, error)")
	f.Bool("metrics", d.Metrics.Enabled, "Serve Prometheus metrics")
	f.String("metrics-addr", d.Metrics.Address, "Prometheus metrics listen address")
	f.Bool("tracing", d.Tracing.Enabled, "Write OpenTelemetry spans to stdout")

	for name, key := range map[string]string{
		"pool-capacity":     "pool.capacity",
		"interval":          "collector.interval",
		"max-frames":        "collector.max_frames",
		"batch-size":        "exporter.batch_size",
		"flush-interval":    "exporter.flush_interval",
		"format":            "exporter.format",
		"compression":       "exporter.compression",
		"compression-level": "exporter.compression_level",
		"sink":              "sink.type",
		"output-dir":        "sink.file.directory",
		"log-level":         "logging.level",
		"metrics":           "metrics.enabled",
		"metrics-addr":      "metrics.address",
		"tracing":           "tracing.enabled",
	} {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
}

func newConfigCommand(load configLoader) *cobra.Command {
	var writePath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if writePath != "" {
				if err := config.Save(writePath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", writePath)
				return nil
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&writePath, "write", "", "Write the configuration to this file instead of stdout")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stacksampler v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
