package queue

import "sort"

// BinarySearch looks records up by bisecting the retained range. It relies
// on timestamps being non-decreasing in cursor order and does not assume
// uniform spacing.
type BinarySearch[T Record] struct {
	rb *RingBuffer[T]
}

// NewBinarySearch returns a binary-search lookup over rb.
func NewBinarySearch[T Record](rb *RingBuffer[T]) *BinarySearch[T] {
	return &BinarySearch[T]{rb: rb}
}

// LowerBound implements Lookup.
func (bs *BinarySearch[T]) LowerBound(target Tick, withErrors bool) Iterator[T] {
	if withErrors {
		return bs.scan(target)
	}

	rb := bs.rb
	r := rb.read.Load()
	n := rb.occupancy(r, rb.write.Load())
	if n == 0 {
		return rb.End()
	}
	if target < rb.records[r].FirstTimestamp() || target >= spanEnd(rb.records[rb.physical(r, n-1)]) {
		return rb.End()
	}

	// The newest record is known to qualify, so only [0, n-1) is searched.
	i := sort.Search(n-1, func(i int) bool {
		return spanEnd(rb.records[rb.physical(r, i)]) > target
	})
	return rb.iteratorAt(rb.physical(r, i))
}

// scan walks the whole valid range, skipping untrusted records.
func (bs *BinarySearch[T]) scan(target Tick) Iterator[T] {
	rb := bs.rb
	r := rb.read.Load()
	n := rb.occupancy(r, rb.write.Load())

	seen := false
	for i := 0; i < n; i++ {
		p := rb.physical(r, i)
		rec := rb.records[p]
		if !Trusted(rec) {
			continue
		}
		if !seen {
			if target < rec.FirstTimestamp() {
				return rb.End()
			}
			seen = true
		}
		if spanEnd(rec) > target {
			return rb.iteratorAt(p)
		}
	}
	return rb.End()
}
