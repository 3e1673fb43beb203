package queue

import "math"

const endPos = math.MaxUint32

// Iterator is a cursor into a RingBuffer. It is a transient view: it does not
// keep the read cursor from moving past it, and the record it refers to is
// only valid until the producer reuses that slot.
//
// Iterators are comparable; it == rb.End() tells whether it refers to a
// record.
type Iterator[T Record] struct {
	rb  *RingBuffer[T]
	pos uint32
}

// IsEnd reports whether the iterator is the end sentinel.
func (it Iterator[T]) IsEnd() bool {
	return it.pos == endPos
}

// Index returns the physical slot the iterator refers to, or -1 at end.
func (it Iterator[T]) Index() int {
	if it.IsEnd() {
		return -1
	}
	return int(it.pos)
}

// Value returns a copy of the record at the iterator. It panics at end.
func (it Iterator[T]) Value() T {
	return *it.Ptr()
}

// Ptr returns a pointer to the record slot at the iterator. It panics at end.
func (it Iterator[T]) Ptr() *T {
	if it.IsEnd() {
		panic("queue: dereferencing end iterator")
	}
	return &it.rb.records[it.pos]
}

// Next moves to the following slot, wrapping at the end of the storage. The
// iterator becomes End once it reaches the write cursor.
func (it *Iterator[T]) Next() {
	if it.IsEnd() {
		return
	}
	it.pos = it.rb.physical(it.pos, 1)
	if it.pos == it.rb.write.Load() {
		it.pos = endPos
	}
}

// Prev moves to the preceding slot, wrapping at the start of the storage.
// From End it moves to the newest record; from the oldest record it becomes
// End.
func (it *Iterator[T]) Prev() {
	if it.IsEnd() {
		r := it.rb.read.Load()
		w := it.rb.write.Load()
		if r != w {
			it.pos = it.rb.prev(w)
		}
		return
	}
	if it.pos == it.rb.read.Load() {
		it.pos = endPos
		return
	}
	it.pos = it.rb.prev(it.pos)
}
