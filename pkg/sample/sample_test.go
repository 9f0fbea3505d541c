package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsMaxFrames(t *testing.T) {
	assert.Equal(t, DefaultMaxFrames, New(0).MaxFrames())
	assert.Equal(t, DefaultMaxFrames, New(-3).MaxFrames())
	assert.Equal(t, 8, New(8).MaxFrames())
}

func TestAddFrame_Truncates(t *testing.T) {
	s := New(2)

	assert.True(t, s.AddFrame("main.a", "a.go", 1))
	assert.True(t, s.AddFrame("main.b", "b.go", 2))
	assert.False(t, s.AddFrame("main.c", "c.go", 3))

	require.Len(t, s.Frames(), 2)
	assert.True(t, s.Truncated)
	assert.Equal(t, Frame{Function: "main.b", File: "b.go", Line: 2}, s.Frames()[1])
}

func TestSetValue_Grows(t *testing.T) {
	s := New(4)
	s.SetValue(ValueCount, 7)
	assert.Equal(t, []int64{0, 7}, s.Values)

	s.SetValue(ValueWallNanos, 100)
	assert.Equal(t, []int64{100, 7}, s.Values)

	s.SetValue(-1, 1)
	assert.Len(t, s.Values, 2)
}

func TestReset_KeepsCapacity(t *testing.T) {
	s := New(4)
	s.Timestamp = time.Now()
	s.GoroutineID = 42
	s.State = "running"
	s.SetLabel("goroutine_state", "running")
	s.SetValue(ValueCount, 1)
	for i := 0; i < 5; i++ {
		s.AddFrame("f", "f.go", i)
	}
	framesCap := cap(s.frames)

	s.Reset()

	assert.True(t, s.Timestamp.IsZero())
	assert.Zero(t, s.GoroutineID)
	assert.Empty(t, s.State)
	assert.False(t, s.Truncated)
	assert.Empty(t, s.Frames())
	assert.Empty(t, s.Values)
	assert.Empty(t, s.Labels)
	assert.Equal(t, framesCap, cap(s.frames))
	assert.NotNil(t, s.Labels)
}

func TestReset_DoesNotAllocate(t *testing.T) {
	s := New(8)
	allocs := testing.AllocsPerRun(100, func() {
		s.Reset()
		s.SetLabel("state", "waiting")
		s.SetValue(ValueWallNanos, 10)
		s.SetValue(ValueCount, 1)
		s.AddFrame("runtime.gopark", "proc.go", 398)
	})
	assert.Zero(t, allocs)
}

func TestClone_IsDeep(t *testing.T) {
	s := New(4)
	s.GoroutineID = 9
	s.SetLabel("k", "v")
	s.SetValue(ValueCount, 1)
	s.AddFrame("main.main", "main.go", 10)

	c := s.Clone()
	s.Reset()
	s.AddFrame("other", "other.go", 1)

	assert.Equal(t, int64(9), c.GoroutineID)
	assert.Equal(t, map[string]string{"k": "v"}, c.Labels)
	assert.Equal(t, []int64{0, 1}, c.Values)
	require.Len(t, c.Frames(), 1)
	assert.Equal(t, "main.main", c.Frames()[0].Function)
	assert.Equal(t, s.MaxFrames(), c.MaxFrames())
}
