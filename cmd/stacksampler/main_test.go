package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/stacksampler/internal/agent"
	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/metrics"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommand_FlagsOverrideDefaults(t *testing.T) {
	out, err := execute(t, "config", "--pool-capacity", "77", "--format", "avro")
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Pool.Capacity)
	assert.Equal(t, "avro", cfg.Exporter.Format)
	assert.Equal(t, config.Default().Exporter.BatchSize, cfg.Exporter.BatchSize)
}

func TestConfigCommand_EnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sampler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  capacity: 12\nexporter:\n  batch_size: 99\n"), 0o600))
	t.Setenv("STACKSAMPLER_EXPORTER_COMPRESSION", "lz4")

	out, err := execute(t, "config", "-c", path)
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Pool.Capacity)
	assert.Equal(t, 99, cfg.Exporter.BatchSize)
	assert.Equal(t, "lz4", cfg.Exporter.Compression)
}

func TestConfigCommand_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	_, err := execute(t, "config", "--write", path, "--batch-size", "8")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Exporter.BatchSize)
}

func TestConfigCommand_InvalidFails(t *testing.T) {
	_, err := execute(t, "config", "--pool-capacity", "-3")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stacksampler v"+version)
}

func TestRunCommand_WritesObjects(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run",
		"--duration", "200ms",
		"--interval", "10ms",
		"--flush-interval", "50ms",
		"--sink", "file",
		"--output-dir", dir,
		"--log-level", "error",
	)
	require.NoError(t, err)

	var files []string
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.NotEmpty(t, files)
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f, ".json.zstd"), f)
	}
}

type countingSink struct {
	closes int
}

func (s *countingSink) Write(context.Context, string, []byte, map[string]string) error { return nil }
func (s *countingSink) Type() string { return "counting" }
func (s *countingSink) Close() error {
	s.closes++
	return nil
}

func TestRunAgent_MetricsListenFailureClosesSink(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	cfg := config.Default()
	cfg.Sink.File.Directory = t.TempDir()
	cfg.Logging.Level = "error"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Address = busy.Addr().String()

	snk := &countingSink{}
	err = runAgent(context.Background(), cfg, agent.WithSink(snk))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, 1, snk.closes, "sink left open after metrics server failed")
}

func TestRunBench(t *testing.T) {
	res, err := runBench(context.Background(), benchOptions{
		Capacity:   64,
		Goroutines: 4,
		Duration:   100 * time.Millisecond,
		MaxFrames:  8,
	})
	require.NoError(t, err)

	assert.Positive(t, res.Ops)
	assert.Equal(t, 64, res.Stats.Capacity)
	assert.InDelta(t, 0.5, res.HitRate, 0.5)
	assert.Positive(t, res.MaxObserved)
	assert.Equal(t, res.Stats.Misses, res.Allocated)

	var out bytes.Buffer
	printBench(&out, benchOptions{Capacity: 64, Goroutines: 4}, res)
	assert.Contains(t, out.String(), "Max occupancy:")
}

func TestRunBench_Validates(t *testing.T) {
	_, err := runBench(context.Background(), benchOptions{Capacity: 1})
	assert.Error(t, err)
}

func TestStartMetricsServer(t *testing.T) {
	pool, err := samplepool.New[int](5)
	require.NoError(t, err)

	cfg := config.MetricsConfig{Enabled: true, Address: "127.0.0.1:0", Path: "/metrics", MaxConnections: 2}
	srv, addr, err := startMetricsServer(cfg, metrics.NewCollector(metrics.Sources{Pool: pool.Stats}), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stacksampler_pool_capacity 5")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBenchCommand_WritesProfiles(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")

	out, err := execute(t, "bench", "--capacity", "16", "-g", "2", "-d", "50ms",
		"--cpuprofile", cpu, "--memprofile", mem)
	require.NoError(t, err)
	assert.Contains(t, out, "Sample pool benchmark")

	for _, p := range []string{cpu, mem} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size(), p)
	}
}
