package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a pop gives up waiting for a record.
var ErrTimeout = errors.New("queue: pop timed out")

// RingBuffer is a fixed-capacity circular buffer of records with lock-free
// single-producer writes.
//
// The write cursor is advanced only by Push, the read cursor only by the pop
// family (TryPop, Pop, PopContext, PopN). Push never blocks: a full buffer
// rejects the new record. Consumers serialize among themselves on a mutex the
// producer never takes, so more than one goroutine may drain the buffer.
//
// Cursor updates are sync/atomic stores issued after the slot they publish
// has been written, and readers load a cursor before touching the slots it
// covers. Go atomics are sequentially consistent, so this gives the
// release/acquire pairing that makes a record visible no later than the
// cursor that exposes it.
type RingBuffer[T Record] struct {
	records []T
	slots   uint32

	write atomic.Uint32
	_     [60]byte
	read  atomic.Uint32
	_     [60]byte

	overflows atomic.Uint64

	popMu sync.Mutex
	ready chan struct{}
}

// NewRingBuffer creates a ring buffer holding up to capacity records. One
// extra slot is allocated to tell a full buffer from an empty one.
func NewRingBuffer[T Record](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("capacity must be > 0")
	}
	if uint64(capacity) >= math.MaxUint32-1 {
		panic(fmt.Sprintf("capacity %d too large", capacity))
	}
	slots := uint32(capacity) + 1
	return &RingBuffer[T]{
		records: make([]T, slots),
		slots:   slots,
		ready:   make(chan struct{}, 1),
	}
}

// Capacity returns the number of records the buffer can hold.
func (rb *RingBuffer[T]) Capacity() int {
	return int(rb.slots - 1)
}

// Occupancy returns a snapshot of the number of committed, unread records.
// It is safe to call concurrently with Push; the value may be stale by the
// pushes and pops in flight.
func (rb *RingBuffer[T]) Occupancy() int {
	r := rb.read.Load()
	return rb.occupancy(r, rb.write.Load())
}

// Overflows returns how many records Push rejected because the buffer was
// full.
func (rb *RingBuffer[T]) Overflows() uint64 {
	return rb.overflows.Load()
}

// Push stores rec in the next free slot. If the buffer is full the record is
// rejected, counted as an overflow and Push returns false; the buffer's
// contents are left untouched. Only one goroutine may call Push.
func (rb *RingBuffer[T]) Push(rec T) bool {
	w := rb.write.Load()
	next := rb.physical(w, 1)
	if next == rb.read.Load() {
		rb.overflows.Add(1)
		return false
	}
	rb.records[w] = rec
	rb.write.Store(next)
	rb.notify()
	return true
}

// TryPop removes and returns the oldest record without waiting.
func (rb *RingBuffer[T]) TryPop() (T, bool) {
	rb.popMu.Lock()
	defer rb.popMu.Unlock()

	var rec T
	r := rb.read.Load()
	w := rb.write.Load()
	if r == w {
		return rec, false
	}
	rec = rb.records[r]
	next := rb.physical(r, 1)
	rb.read.Store(next)
	if next != w {
		// Hand the wakeup on to any other waiting consumer.
		rb.notify()
	}
	return rec, true
}

// Pop removes and returns the oldest record, waiting up to timeout for one
// to arrive. It returns ErrTimeout if the buffer stayed empty.
func (rb *RingBuffer[T]) Pop(timeout time.Duration) (T, error) {
	if rec, ok := rb.TryPop(); ok {
		return rec, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rb.PopContext(ctx)
}

// PopContext removes and returns the oldest record, waiting until one
// arrives or ctx is done. A context deadline is reported as ErrTimeout.
func (rb *RingBuffer[T]) PopContext(ctx context.Context) (T, error) {
	for {
		if rec, ok := rb.TryPop(); ok {
			return rec, nil
		}
		select {
		case <-rb.ready:
		case <-ctx.Done():
			var zero T
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return zero, ctx.Err()
		}
	}
}

// PopN discards up to n of the oldest records and returns how many were
// removed.
func (rb *RingBuffer[T]) PopN(n int) int {
	if n <= 0 {
		return 0
	}
	rb.popMu.Lock()
	defer rb.popMu.Unlock()

	r := rb.read.Load()
	occupancy := rb.occupancy(r, rb.write.Load())
	n = min(n, occupancy)
	rb.read.Store(rb.physical(r, n))
	return n
}

// Front returns the oldest committed record.
func (rb *RingBuffer[T]) Front() (rec T, ok bool) {
	r := rb.read.Load()
	if r == rb.write.Load() {
		return rec, false
	}
	return rb.records[r], true
}

// Back returns the newest committed record.
func (rb *RingBuffer[T]) Back() (rec T, ok bool) {
	r := rb.read.Load()
	w := rb.write.Load()
	if r == w {
		return rec, false
	}
	return rb.records[rb.prev(w)], true
}

// Begin returns an iterator at the oldest record, or End if the buffer is
// empty.
func (rb *RingBuffer[T]) Begin() Iterator[T] {
	r := rb.read.Load()
	if r == rb.write.Load() {
		return rb.End()
	}
	return rb.iteratorAt(r)
}

// End returns the sentinel iterator that refers to no record.
func (rb *RingBuffer[T]) End() Iterator[T] {
	return Iterator[T]{rb: rb, pos: endPos}
}

// Snapshot copies the committed records in FIFO order.
func (rb *RingBuffer[T]) Snapshot() []T {
	r := rb.read.Load()
	n := rb.occupancy(r, rb.write.Load())
	result := make([]T, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, rb.records[rb.physical(r, i)])
	}
	return result
}

func (rb *RingBuffer[T]) iteratorAt(pos uint32) Iterator[T] {
	return Iterator[T]{rb: rb, pos: pos}
}

func (rb *RingBuffer[T]) occupancy(r, w uint32) int {
	if w >= r {
		return int(w - r)
	}
	return int(w + rb.slots - r)
}

// physical maps the logical offset i (0 <= i < slots) from position base
// onto a slot index. Offsets never exceed one full wrap, so a single
// conditional subtraction is enough.
func (rb *RingBuffer[T]) physical(base uint32, i int) uint32 {
	p := base + uint32(i)
	if p >= rb.slots {
		p -= rb.slots
	}
	return p
}

func (rb *RingBuffer[T]) prev(pos uint32) uint32 {
	if pos == 0 {
		return rb.slots - 1
	}
	return pos - 1
}

func (rb *RingBuffer[T]) notify() {
	select {
	case rb.ready <- struct{}{}:
	default:
	}
}
