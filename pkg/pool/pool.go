// Package pool provides unbounded, GC-managed object pools for scratch
// objects on the export path: encode and compression buffers, record slices.
//
// These pools are built on sync.Pool and may drop their contents at any
// garbage collection. Objects that must be retained under a hard bound, such
// as samples, go through package samplepool instead.
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a typed wrapper around sync.Pool that resets objects on Put and
// keeps allocation statistics. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)

	allocated atomic.Int64
	gets      atomic.Int64
	puts      atomic.Int64
}

// New creates a pool. newFn builds an object when the pool is empty; reset,
// if non-nil, is applied to every object passed to Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one if the pool is empty.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.puts.Add(1)
	p.pool.Put(obj)
}

// Stats returns the number of objects allocated by the pool and the number
// of Get and Put calls.
func (p *Pool[T]) Stats() (allocated, gets, puts int64) {
	return p.allocated.Load(), p.gets.Load(), p.puts.Load()
}

// maxPooledBuffer keeps one oversized flush from pinning memory forever.
const maxPooledBuffer = 4 << 20

// BufferPool recycles byte buffers for encoders and compressors.
var BufferPool = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64*1024)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer from BufferPool.
func GetBuffer() *bytes.Buffer {
	return BufferPool.Get()
}

// PutBuffer returns buf to BufferPool. Buffers that grew past the pooling
// limit are left for the garbage collector.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	BufferPool.Put(buf)
}

// CopyBytes returns a copy of the buffer contents that does not alias the
// buffer, so the buffer can go back to the pool.
func CopyBytes(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
