// Package samplepool provides a bounded, lock-free pool for recycling sample
// records between the sampling path and the export path.
//
// A Pool never allocates or frees the objects it holds. Producers call Take
// before filling a sample and allocate one themselves when the pool is
// empty. Consumers call Return once the sample's data has been extracted;
// when the pool is at capacity the sample is handed back and the caller
// disposes of it.
//
//	p, _ := samplepool.New[sample.Sample](1024)
//
//	s, ok := p.Take()
//	if !ok {
//	    s = sample.New(maxFrames)
//	}
//	// fill and ship s
//
//	if rejected, ok := p.Return(s); !ok {
//	    dispose(rejected)
//	}
//
// Take and Return are safe for concurrent use and never wait for a handle or
// a free slot: an empty pool misses and a full pool rejects at once. Below
// capacity a Return is always stored, even while other goroutines are midway
// through their own Take or Return. The pool hands out each stored handle at
// most once; there is no ordering guarantee between the handles returned and
// the handles taken.
package samplepool

import (
	"runtime"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/lockfree"
)

// Pool is a bounded pool of *T handles. The zero value is not usable; create
// pools with New.
type Pool[T any] struct {
	store    *lockfree.MPMCQueue[*T]
	capacity int

	hits     lockfree.AtomicCounter
	misses   lockfree.AtomicCounter
	retained lockfree.AtomicCounter
	rejected lockfree.AtomicCounter
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Capacity int    // Maximum number of free handles retained
	Len      int    // Approximate number of free handles held
	Hits     uint64 // Take calls that returned a handle
	Misses   uint64 // Take calls that found the pool empty
	Retained uint64 // Return calls that stored the handle
	Rejected uint64 // Return calls that handed the handle back
}

// New creates a pool that retains at most capacity free handles.
// A capacity of zero is valid and yields a pool that rejects every handle.
func New[T any](capacity int) (*Pool[T], error) {
	if capacity < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "pool capacity must not be negative").
			WithDetail("capacity", capacity)
	}

	// The occupancy check in Return is not atomic with the insert, so racing
	// returners can overshoot capacity. Headroom of one slot per P absorbs
	// that overshoot; beyond it the queue itself is full and rejects.
	return &Pool[T]{
		store:    lockfree.NewMPMCQueue[*T](capacity + runtime.GOMAXPROCS(0)),
		capacity: capacity,
	}, nil
}

// Take removes a free handle from the pool. It returns nil and false when
// the pool is empty. The caller owns the returned handle exclusively until
// it is passed to Return.
func (p *Pool[T]) Take() (*T, bool) {
	h, ok := p.store.Dequeue()
	if !ok || h == nil {
		p.misses.Increment()
		return nil, false
	}
	p.hits.Increment()
	return h, true
}

// Return offers a finished handle back to the pool. It reports true when the
// pool kept the handle; the caller must not touch it afterwards. It reports
// false, and hands h back, when the pool is at capacity. The caller then
// owns h and is responsible for disposing of it.
//
// The capacity check is approximate under concurrent Return calls, so the
// pool may briefly hold a few more handles than its capacity.
func (p *Pool[T]) Return(h *T) (*T, bool) {
	if h == nil {
		p.rejected.Increment()
		return nil, false
	}
	if p.store.Len() >= p.capacity || !p.store.Enqueue(h) {
		p.rejected.Increment()
		return h, false
	}
	p.retained.Increment()
	return nil, true
}

// Capacity returns the maximum number of free handles the pool retains.
func (p *Pool[T]) Capacity() int {
	return p.capacity
}

// Len returns the approximate number of free handles in the pool.
func (p *Pool[T]) Len() int {
	return p.store.Len()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Capacity: p.capacity,
		Len:      p.store.Len(),
		Hits:     p.hits.Get(),
		Misses:   p.misses.Get(),
		Retained: p.retained.Get(),
		Rejected: p.rejected.Get(),
	}
}
