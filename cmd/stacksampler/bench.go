package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/lockfree"
	"github.com/ajitpratap0/stacksampler/pkg/sample"
	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

type benchOptions struct {
	Capacity   int
	Goroutines int
	Duration   time.Duration
	MaxFrames  int
	CPUProfile string
	MemProfile string
}

type benchResult struct {
	Ops          uint64
	Elapsed      time.Duration
	Stats        samplepool.Stats
	MaxObserved  int
	Allocated    uint64
	OpsPerSecond float64
	HitRate      float64
}

func newBenchCommand() *cobra.Command {
	opts := benchOptions{
		Capacity:   1024,
		Goroutines: runtime.GOMAXPROCS(0) * 2,
		Duration:   5 * time.Second,
		MaxFrames:  sample.DefaultMaxFrames,
	}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Hammer the sample pool and report throughput",
		Long: `Run concurrent Take/Return cycles against a sample pool and report
throughput, hit rate and the largest occupancy observed against capacity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stop, err := startCPUProfile(opts.CPUProfile)
			if err != nil {
				return err
			}
			res, err := runBench(cmd.Context(), opts)
			stop()
			if err != nil {
				return err
			}
			if err := writeHeapProfile(opts.MemProfile); err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Capacity, "capacity", opts.Capacity, "Pool capacity")
	f.IntVarP(&opts.Goroutines, "goroutines", "g", opts.Goroutines, "Concurrent take/return loops")
	f.DurationVarP(&opts.Duration, "duration", "d", opts.Duration, "Benchmark duration")
	f.IntVar(&opts.MaxFrames, "max-frames", opts.MaxFrames, "Frames per allocated sample")
	f.StringVar(&opts.CPUProfile, "cpuprofile", "", "Write a CPU profile of the run to this file")
	f.StringVar(&opts.MemProfile, "memprofile", "", "Write a heap profile after the run to this file")
	return cmd
}

// runBench prefills a pool to capacity, then runs opts.Goroutines loops that
// take a sample (allocating on a miss), touch it and return it. A monitor
// goroutine records the largest Len seen.
func runBench(ctx context.Context, opts benchOptions) (*benchResult, error) {
	if opts.Goroutines <= 0 || opts.Duration <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "goroutines and duration must be positive")
	}
	pool, err := samplepool.New[sample.Sample](opts.Capacity)
	if err != nil {
		return nil, err
	}
	for i := 0; i < opts.Capacity; i++ {
		pool.Return(sample.New(opts.MaxFrames))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var ops, allocated lockfree.AtomicCounter
	var wg sync.WaitGroup
	start := time.Now()

	for g := 0; g < opts.Goroutines; g++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			var n uint64
			for {
				if n&255 == 0 && ctx.Err() != nil {
					ops.Add(n)
					return
				}
				s, ok := pool.Take()
				if !ok {
					allocated.Increment()
					s = sample.New(opts.MaxFrames)
				}
				s.Reset()
				s.GoroutineID = id
				s.AddFrame("main.runBench", "bench.go", 1)
				pool.Return(s)
				n++
			}
		}(int64(g))
	}

	maxObserved := 0
	monitor := make(chan struct{})
	go func() {
		defer close(monitor)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			if l := pool.Len(); l > maxObserved {
				maxObserved = l
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	wg.Wait()
	<-monitor
	elapsed := time.Since(start)

	res := &benchResult{
		Ops:         ops.Get(),
		Elapsed:     elapsed,
		Stats:       pool.Stats(),
		MaxObserved: maxObserved,
		Allocated:   allocated.Get(),
	}
	if elapsed > 0 {
		res.OpsPerSecond = float64(res.Ops) / elapsed.Seconds()
	}
	if takes := res.Stats.Hits + res.Stats.Misses; takes > 0 {
		res.HitRate = float64(res.Stats.Hits) / float64(takes)
	}
	return res, nil
}

func printBench(w io.Writer, opts benchOptions, res *benchResult) {
	fmt.Fprintf(w, "=== Sample pool benchmark ===\n")
	fmt.Fprintf(w, "Capacity:       %d\n", opts.Capacity)
	fmt.Fprintf(w, "Goroutines:     %d (GOMAXPROCS %d)\n", opts.Goroutines, runtime.GOMAXPROCS(0))
	fmt.Fprintf(w, "Duration:       %v\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Take/Return:    %d cycles (%.0f/s)\n", res.Ops, res.OpsPerSecond)
	fmt.Fprintf(w, "Hit rate:       %.2f%% (%d hits, %d misses)\n", res.HitRate*100, res.Stats.Hits, res.Stats.Misses)
	fmt.Fprintf(w, "Allocated:      %d\n", res.Allocated)
	fmt.Fprintf(w, "Rejected:       %d\n", res.Stats.Rejected)
	fmt.Fprintf(w, "Max occupancy:  %d of %d\n", res.MaxObserved, opts.Capacity)
}

// startCPUProfile starts CPU profiling into path. An empty path is a no-op.
func startCPUProfile(path string) (stop func(), err error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create CPU profile").WithDetail("path", path)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profile")
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

// writeHeapProfile writes a heap profile to path after a GC. An empty path
// is a no-op.
func writeHeapProfile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create heap profile").WithDetail("path", path)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write heap profile")
	}
	return nil
}
