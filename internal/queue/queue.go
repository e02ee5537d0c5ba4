// Package queue provides a bounded, lock-free multi-producer/multi-consumer
// ring buffer used to absorb ingestion bursts ahead of the write-ahead log.
package queue

import (
	"sync/atomic"

	"github.com/cacack/eventstore/internal/domain"
)

// cacheLinePad avoids false sharing between the head and tail counters,
// which are written by different goroutine populations (producers vs
// consumers) far more often than they are read together.
type cacheLinePad [64 - 8]byte

// Queue is a fixed-capacity ring buffer of domain.Event. TryPush and TryPop
// never block: callers get ErrQueueFull or a false "empty" result instead of
// waiting, so backpressure is always explicit.
//
// The implementation follows the classic single-array MPMC ring buffer
// (a Go port of the design used in LMAX Disruptor and Dmitry Vyukov's
// bounded MPMC queue): each slot carries a sequence number that producers
// and consumers check to claim it without a lock, via a CAS on the
// shared head/tail counter followed by an atomic store of the slot's
// sequence.
type Queue struct {
	capacity uint64
	mask     uint64
	buf      []cell

	_    cacheLinePad
	head uint64 // next slot a producer will attempt to claim
	_    cacheLinePad
	tail uint64 // next slot a consumer will attempt to claim
	_    cacheLinePad
}

type cell struct {
	sequence uint64
	event    domain.Event
}

// New creates a Queue whose capacity is rounded up to the next power of
// two (required for the mask-based slot lookup). capacity must be > 0.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	cap := nextPowerOfTwo(uint64(capacity))
	q := &Queue{
		capacity: cap,
		mask:     cap - 1,
		buf:      make([]cell, cap),
	}
	for i := range q.buf {
		q.buf[i].sequence = uint64(i)
	}
	return q
}

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Capacity returns the queue's slot count (a power of two, possibly larger
// than the requested capacity).
func (q *Queue) Capacity() int {
	return int(q.capacity)
}

// Len is a best-effort snapshot of the number of queued events. Under
// concurrent access it may be stale the instant it is read.
func (q *Queue) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// TryPush attempts to enqueue event without blocking. It returns
// domain.QueueFull() if the queue has no free slot at the moment of the
// attempt.
func (q *Queue) TryPush(event domain.Event) error {
	pos := atomic.LoadUint64(&q.head)
	for {
		c := &q.buf[pos&q.mask]
		seq := atomic.LoadUint64(&c.sequence)
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.head, pos, pos+1) {
				c.event = event
				atomic.StoreUint64(&c.sequence, pos+1)
				return nil
			}
			pos = atomic.LoadUint64(&q.head)
		case diff < 0:
			return domain.QueueFull()
		default:
			pos = atomic.LoadUint64(&q.head)
		}
	}
}

// TryPop attempts to dequeue the oldest event without blocking. The second
// return value is false if the queue was empty at the moment of the
// attempt.
func (q *Queue) TryPop() (domain.Event, bool) {
	pos := atomic.LoadUint64(&q.tail)
	for {
		c := &q.buf[pos&q.mask]
		seq := atomic.LoadUint64(&c.sequence)
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.tail, pos, pos+1) {
				event := c.event
				atomic.StoreUint64(&c.sequence, pos+q.capacity)
				return event, true
			}
			pos = atomic.LoadUint64(&q.tail)
		case diff < 0:
			return domain.Event{}, false
		default:
			pos = atomic.LoadUint64(&q.tail)
		}
	}
}
