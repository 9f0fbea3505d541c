// Package lockfree provides lock-free data structures for the sampling hot path.
package lockfree

import (
	"runtime"
	"sync/atomic"
)

// MPMCQueue is a bounded lock-free multi-producer multi-consumer queue.
// Every slot carries a sequence number that tells producers and consumers
// whether the slot is ready for them, so no slot is ever read and written
// at the same time. Enqueue and Dequeue never wait on each other's absence:
// they report full or empty as soon as the positions show it, and only
// yield while a peer finishes publishing a slot it has already claimed.
type MPMCQueue[T any] struct {
	buffer   []slot[T]
	capacity uint64
	mask     uint64

	// Separate enqueue and dequeue indices on different cache lines
	enqueuePos atomic.Uint64
	_padding1  [7]uint64 //nolint:unused

	dequeuePos atomic.Uint64
	_padding2  [7]uint64 //nolint:unused
}

type slot[T any] struct {
	sequence atomic.Uint64
	data     T
}

// NewMPMCQueue creates a queue holding at least capacity items.
// Capacity is rounded up to the next power of two (minimum 1).
func NewMPMCQueue[T any](capacity int) *MPMCQueue[T] {
	size := uint64(1)
	for capacity > 0 && size < uint64(capacity) {
		size <<= 1
	}

	q := &MPMCQueue[T]{
		buffer:   make([]slot[T], size),
		capacity: size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		q.buffer[i].sequence.Store(i)
	}
	return q
}

// Enqueue adds item to the queue. It returns false only if the queue holds
// Cap items. A slot still owned by a consumer that has claimed but not yet
// released it is waited for rather than reported as full.
func (q *MPMCQueue[T]) Enqueue(item T) bool {
	for {
		pos := q.enqueuePos.Load()
		s := &q.buffer[pos&q.mask]
		seq := s.sequence.Load()

		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				s.data = item
				s.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			// The slot still belongs to the previous lap. It is only full
			// if no consumer has claimed that item yet.
			if q.dequeuePos.Load()+q.capacity <= pos {
				return false
			}
		}

		runtime.Gosched()
	}
}

// Dequeue removes an item from the queue. It returns the zero value and
// false only if the queue is empty. A slot claimed by a producer that has not
// yet published its item is waited for rather than reported as empty. The
// vacated slot is cleared so the queue keeps no reference to the returned
// item.
func (q *MPMCQueue[T]) Dequeue() (T, bool) {
	var zero T
	for {
		pos := q.dequeuePos.Load()
		s := &q.buffer[pos&q.mask]
		seq := s.sequence.Load()

		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				item := s.data
				s.data = zero
				s.sequence.Store(pos + q.capacity)
				return item, true
			}
		case diff < 0:
			// Nothing published here yet. It is only empty if no producer
			// has claimed the slot.
			if q.enqueuePos.Load() <= pos {
				return zero, false
			}
		}

		runtime.Gosched()
	}
}

// Len returns the number of items in the queue. Under concurrent use the
// value is an approximation: it counts slots claimed by producers that may
// not have been published yet, and under heavy dequeue traffic it may
// undercount.
func (q *MPMCQueue[T]) Len() int {
	for i := 0; i < lenSnapshotAttempts; i++ {
		deq := q.dequeuePos.Load()
		enq := q.enqueuePos.Load()
		// dequeuePos did not move around the enqueuePos load, so the pair
		// describes the same instant.
		if q.dequeuePos.Load() == deq {
			return q.clampLen(enq, deq)
		}
	}
	enq := q.enqueuePos.Load()
	deq := q.dequeuePos.Load()
	if deq > enq {
		return 0
	}
	return q.clampLen(enq, deq)
}

const lenSnapshotAttempts = 4

func (q *MPMCQueue[T]) clampLen(enq, deq uint64) int {
	n := enq - deq
	if n > q.capacity {
		n = q.capacity
	}
	return int(n)
}

// Cap returns the number of slots in the queue.
func (q *MPMCQueue[T]) Cap() int {
	return int(q.capacity)
}

// AtomicCounter provides a lock-free counter for statistics.
type AtomicCounter struct {
	value atomic.Uint64
}

// Increment atomically increments the counter by one.
func (c *AtomicCounter) Increment() {
	c.value.Add(1)
}

// Add atomically adds delta to the counter.
func (c *AtomicCounter) Add(delta uint64) {
	c.value.Add(delta)
}

// Get returns the current value of the counter.
func (c *AtomicCounter) Get() uint64 {
	return c.value.Load()
}

// Reset sets the counter back to zero.
func (c *AtomicCounter) Reset() {
	c.value.Store(0)
}
