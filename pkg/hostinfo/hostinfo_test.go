package hostinfo

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	info, err := Collect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, info.Hostname)
	assert.Equal(t, int64(os.Getpid()), info.PID)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Positive(t, info.LogicalCPUs)

	meta := info.Meta()
	assert.Equal(t, runtime.Version(), meta["go_version"])
	assert.Contains(t, meta, "logical_cpus")
}

func TestMeta_OmitsUnknown(t *testing.T) {
	info := &Info{OS: "linux", Arch: "amd64", GoVersion: "go1.24", LogicalCPUs: 4}
	assert.Equal(t, map[string]string{
		"os":           "linux",
		"arch":         "amd64",
		"go_version":   "go1.24",
		"logical_cpus": "4",
	}, info.Meta())
}

func TestSelf(t *testing.T) {
	p, err := Self(context.Background())
	require.NoError(t, err)

	stats := p.Stats(context.Background())
	if runtime.GOOS == "linux" {
		assert.Positive(t, stats.RSSBytes)
		assert.Positive(t, stats.NumThreads)
	}
}
