// Package encoding serializes batches of profile samples for export.
//
// A Batch holds flat copies of samples, so the exporter can hand samples
// back to the sample pool as soon as they are added, long before the batch
// is encoded and written.
package encoding

import (
	"github.com/ajitpratap0/stacksampler/pkg/sample"
)

// Record is the exported form of one sample. Times are Unix nanoseconds.
type Record struct {
	TimestampNanos int64             `json:"timestamp_ns"`
	GoroutineID    int64             `json:"goroutine_id"`
	State          string            `json:"state"`
	Frames         []sample.Frame    `json:"frames"`
	Labels         map[string]string `json:"labels,omitempty"`
	Values         []int64           `json:"values"`
	Truncated      bool              `json:"truncated,omitempty"`
}

// Batch is a set of records plus the header describing where and when they
// were captured.
type Batch struct {
	Host       string            `json:"host"`
	PID        int64             `json:"pid"`
	StartNanos int64             `json:"start_ns"`
	EndNanos   int64             `json:"end_ns"`
	Meta       map[string]string `json:"meta,omitempty"`
	Records    []Record          `json:"records"`
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Records)
}

// Add copies s into the batch. The batch keeps no reference to s or to any
// of its storage. Record storage left over from earlier batches is reused.
func (b *Batch) Add(s *sample.Sample) {
	n := len(b.Records)
	if n < cap(b.Records) {
		b.Records = b.Records[:n+1]
	} else {
		b.Records = append(b.Records, Record{})
	}
	b.Records[n].copyFrom(s)

	ts := s.Timestamp.UnixNano()
	if b.StartNanos == 0 || ts < b.StartNanos {
		b.StartNanos = ts
	}
	if ts > b.EndNanos {
		b.EndNanos = ts
	}
}

// Reset empties the batch for reuse. Host, PID and Meta are kept.
func (b *Batch) Reset() {
	b.Records = b.Records[:0]
	b.StartNanos = 0
	b.EndNanos = 0
}

func (r *Record) copyFrom(s *sample.Sample) {
	r.TimestampNanos = s.Timestamp.UnixNano()
	r.GoroutineID = s.GoroutineID
	r.State = s.State
	r.Truncated = s.Truncated
	r.Frames = append(r.Frames[:0], s.Frames()...)
	r.Values = append(r.Values[:0], s.Values...)

	if len(s.Labels) == 0 {
		r.Labels = nil
		return
	}
	if r.Labels == nil {
		r.Labels = make(map[string]string, len(s.Labels))
	} else {
		for k := range r.Labels {
			delete(r.Labels, k)
		}
	}
	for k, v := range s.Labels {
		r.Labels[k] = v
	}
}
