package lockfree

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMPMCQueue_RoundsToPowerOfTwo(t *testing.T) {
	cases := map[int]int{
		-1:   1,
		0:    1,
		1:    1,
		2:    2,
		3:    4,
		5:    8,
		1000: 1024,
		1024: 1024,
	}
	for in, want := range cases {
		assert.Equal(t, want, NewMPMCQueue[int](in).Cap(), "capacity %d", in)
	}
}

func TestMPMCQueue_FullAndEmpty(t *testing.T) {
	q := NewMPMCQueue[int](4)

	_, ok := q.Dequeue()
	assert.False(t, ok, "new queue must be empty")

	for i := 1; i <= 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(5), "queue should report full")
	assert.Equal(t, 4, q.Len())

	for i := 1; i <= 4; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestMPMCQueue_ClearsDequeuedSlots(t *testing.T) {
	q := NewMPMCQueue[*int](2)
	v := 7
	require.True(t, q.Enqueue(&v))

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Same(t, &v, got)

	for i := range q.buffer {
		assert.Nil(t, q.buffer[i].data, "slot %d still references a dequeued item", i)
	}
}

func TestMPMCQueue_WrapAround(t *testing.T) {
	q := NewMPMCQueue[int](2)
	for i := 0; i < 1000; i++ {
		require.True(t, q.Enqueue(i))
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

// A consumer that claimed a slot but has not released it yet must not make
// the queue look full to the next lap of producers.
func TestMPMCQueue_EnqueueWaitsForClaimedSlot(t *testing.T) {
	q := NewMPMCQueue[int](2)
	require.True(t, q.Enqueue(1))
	require.True(t, q.Enqueue(2))

	// Claim slot 0 the way Dequeue does, without releasing it.
	q.dequeuePos.Store(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s := &q.buffer[0]
		s.data = 0
		s.sequence.Store(2)
	}()

	assert.True(t, q.Enqueue(3), "queue holding one item reported full")
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Enqueue(4), "queue holding two items must be full")
}

// A producer that claimed a slot but has not published it yet must not make
// the queue look empty to consumers.
func TestMPMCQueue_DequeueWaitsForClaimedSlot(t *testing.T) {
	q := NewMPMCQueue[int](2)

	// Claim slot 0 the way Enqueue does, without publishing it.
	q.enqueuePos.Store(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s := &q.buffer[0]
		s.data = 7
		s.sequence.Store(1)
	}()

	v, ok := q.Dequeue()
	require.True(t, ok, "claimed slot reported as empty")
	assert.Equal(t, 7, v)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

// Few items circulating through a large queue must never see it as full,
// however the slots line up between producers and consumers.
func TestMPMCQueue_NeverFullBelowCapacity(t *testing.T) {
	const (
		items      = 8
		workers    = 16
		iterations = 20000
	)
	q := NewMPMCQueue[int](64)
	for i := 0; i < items; i++ {
		require.True(t, q.Enqueue(i))
	}

	var full atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				v, ok := q.Dequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				if !q.Enqueue(v) {
					full.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, full.Load(), "queue reported full while holding at most %d items", items)
	assert.Equal(t, items-int(full.Load()), q.Len())
}

func TestMPMCQueue_Concurrent(t *testing.T) {
	q := NewMPMCQueue[int](1024)
	producers := 8
	consumers := 8
	itemsPerProducer := 10000
	totalItems := int64(producers * itemsPerProducer)

	var sentSum, receivedSum, receivedCount int64

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	var consumerWg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for atomic.LoadInt64(&receivedCount) < totalItems {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					atomic.AddInt64(&receivedCount, 1)
					continue
				}
				runtime.Gosched()
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, sentSum, receivedSum, "checksum mismatch")
		assert.Equal(t, totalItems, receivedCount)
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for consumers, received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestAtomicCounter(t *testing.T) {
	var c AtomicCounter
	c.Increment()
	c.Add(4)
	assert.Equal(t, uint64(5), c.Get())
	c.Reset()
	assert.Equal(t, uint64(0), c.Get())
}

func BenchmarkMPMCQueue_EnqueueDequeue(b *testing.B) {
	q := NewMPMCQueue[int](1024)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if q.Enqueue(1) {
				q.Dequeue()
			}
		}
	})
}
