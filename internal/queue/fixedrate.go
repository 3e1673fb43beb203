package queue

// FixedRate looks records up in constant time by extrapolating from the
// oldest record, assuming every retained record holds the same number of
// frames spaced exactly ExpectedTickDifference apart. A dropped or
// variable-length record makes the result slightly off; callers that cannot
// rule that out must pass withErrors, which falls back to BinarySearch's
// scan.
type FixedRate[T Record] struct {
	rb       *RingBuffer[T]
	fallback *BinarySearch[T]
}

// NewFixedRate returns a fixed-rate lookup over rb.
func NewFixedRate[T Record](rb *RingBuffer[T]) *FixedRate[T] {
	return &FixedRate[T]{
		rb:       rb,
		fallback: NewBinarySearch(rb),
	}
}

// LowerBound implements Lookup.
func (fr *FixedRate[T]) LowerBound(target Tick, withErrors bool) Iterator[T] {
	if withErrors {
		return fr.fallback.LowerBound(target, true)
	}

	rb := fr.rb
	start := rb.read.Load()
	occupancy := rb.occupancy(start, rb.write.Load())
	if occupancy == 0 {
		return rb.End()
	}

	oldestTS := rb.records[start].FirstTimestamp()
	frames := Tick(rb.records[start].FrameCount())
	tickDiff := rb.records[start].ExpectedTickDifference()
	if frames == 0 || tickDiff == 0 {
		return fr.fallback.LowerBound(target, false)
	}

	newestTS := oldestTS + Tick(occupancy)*tickDiff*frames
	if target < oldestTS || target >= newestTS {
		return rb.End()
	}

	tickOffset := (target - oldestTS) / tickDiff
	recordOffset := uint32(tickOffset / frames)
	idx := start + recordOffset
	if idx >= rb.slots {
		idx -= rb.slots
	}
	return rb.iteratorAt(idx)
}
