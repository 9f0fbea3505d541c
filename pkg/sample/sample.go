// Package sample defines the profiler observation that flows from the
// collector to the exporter and is recycled through the sample pool.
//
// A Sample is built for reuse: Reset keeps the capacity of its slices and
// maps so a recycled sample can be refilled without allocating.
package sample

import (
	"time"
)

// Default sizing for freshly allocated samples.
const (
	DefaultMaxFrames = 64
	defaultLabels    = 4
	defaultValues    = 2
)

// Value indices used by the collector.
const (
	ValueWallNanos = 0
	ValueCount     = 1
)

// Frame is one resolved stack frame.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Sample is a single captured stack with its labels and values.
type Sample struct {
	Timestamp   time.Time
	GoroutineID int64
	State       string
	Labels      map[string]string
	Values      []int64
	Truncated   bool

	frames    []Frame
	maxFrames int
}

// New allocates a sample that records at most maxFrames frames.
// A non-positive maxFrames selects DefaultMaxFrames.
func New(maxFrames int) *Sample {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Sample{
		Labels:    make(map[string]string, defaultLabels),
		Values:    make([]int64, 0, defaultValues),
		frames:    make([]Frame, 0, maxFrames),
		maxFrames: maxFrames,
	}
}

// Reset clears the sample for reuse. Backing storage is retained.
func (s *Sample) Reset() {
	s.Timestamp = time.Time{}
	s.GoroutineID = 0
	s.State = ""
	s.Truncated = false
	s.frames = s.frames[:0]
	s.Values = s.Values[:0]
	for k := range s.Labels {
		delete(s.Labels, k)
	}
}

// MaxFrames returns the frame limit of the sample.
func (s *Sample) MaxFrames() int {
	return s.maxFrames
}

// AddFrame appends a frame. Frames past the limit are dropped and the sample
// is marked truncated; AddFrame then reports false.
func (s *Sample) AddFrame(function, file string, line int) bool {
	if len(s.frames) >= s.maxFrames {
		s.Truncated = true
		return false
	}
	s.frames = append(s.frames, Frame{Function: function, File: file, Line: line})
	return true
}

// Frames returns the recorded frames, innermost first. The slice is owned by
// the sample and is only valid until the next Reset.
func (s *Sample) Frames() []Frame {
	return s.frames
}

// SetLabel sets a string label.
func (s *Sample) SetLabel(key, value string) {
	if s.Labels == nil {
		s.Labels = make(map[string]string, defaultLabels)
	}
	s.Labels[key] = value
}

// SetValue stores v at index i, growing Values with zeros as needed.
func (s *Sample) SetValue(i int, v int64) {
	if i < 0 {
		return
	}
	for len(s.Values) <= i {
		s.Values = append(s.Values, 0)
	}
	s.Values[i] = v
}

// Clone returns a deep copy that shares no storage with s.
func (s *Sample) Clone() *Sample {
	c := &Sample{
		Timestamp:   s.Timestamp,
		GoroutineID: s.GoroutineID,
		State:       s.State,
		Truncated:   s.Truncated,
		Labels:      make(map[string]string, len(s.Labels)),
		Values:      append(make([]int64, 0, len(s.Values)), s.Values...),
		frames:      append(make([]Frame, 0, s.maxFrames), s.frames...),
		maxFrames:   s.maxFrames,
	}
	for k, v := range s.Labels {
		c.Labels[k] = v
	}
	return c
}
