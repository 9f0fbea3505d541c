// Package hostinfo describes the host and process being profiled. The
// exporter stamps every batch with this information.
package hostinfo

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// Info is static host and process metadata.
type Info struct {
	Hostname      string
	PID           int64
	OS            string
	Platform      string
	KernelVersion string
	Arch          string
	LogicalCPUs   int
	TotalMemory   uint64
	GoVersion     string
}

// Collect gathers host metadata. Fields gopsutil cannot determine on this
// platform are filled from the Go runtime where possible, so Collect only
// fails when even the hostname is unavailable.
func Collect(ctx context.Context) (*Info, error) {
	info := &Info{
		PID:       int64(os.Getpid()),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.KernelVersion = hi.KernelVersion
	}
	if info.Hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to determine hostname")
		}
		info.Hostname = name
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.LogicalCPUs = n
	} else {
		info.LogicalCPUs = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemory = vm.Total
	}
	return info, nil
}

// Meta renders the metadata as batch header labels.
func (i *Info) Meta() map[string]string {
	m := map[string]string{
		"os":           i.OS,
		"arch":         i.Arch,
		"go_version":   i.GoVersion,
		"logical_cpus": strconv.Itoa(i.LogicalCPUs),
	}
	if i.Platform != "" {
		m["platform"] = i.Platform
	}
	if i.KernelVersion != "" {
		m["kernel_version"] = i.KernelVersion
	}
	if i.TotalMemory > 0 {
		m["total_memory"] = strconv.FormatUint(i.TotalMemory, 10)
	}
	return m
}

// ProcessStats is a point-in-time view of this process's resource usage.
type ProcessStats struct {
	RSSBytes   uint64
	NumThreads int32
	CPUPercent float64
}

// Process samples resource usage of the current process.
type Process struct {
	proc *process.Process
}

// Self returns a Process for the running program.
func Self(ctx context.Context) (*Process, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to inspect own process")
	}
	return &Process{proc: p}, nil
}

// Stats reads current usage. Unavailable counters are left at zero.
func (p *Process) Stats(ctx context.Context) ProcessStats {
	var s ProcessStats
	if mi, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		s.RSSBytes = mi.RSS
	}
	if n, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		s.NumThreads = n
	}
	if pct, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = pct
	}
	return s
}
