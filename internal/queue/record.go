package queue

// Tick is the integer time unit of record timestamps.
type Tick uint64

// SystemType tags the detector system a record type belongs to. The queue
// never interprets it.
type SystemType uint8

// Record is the capability set a type must provide to be stored in a
// RingBuffer and searched by a Lookup.
type Record interface {

	// FirstTimestamp returns the timestamp of the first frame in the record.
	FirstTimestamp() Tick

	// FrameCount returns the number of frames packed into the record.
	FrameCount() uint

	// ExpectedTickDifference returns the nominal spacing between consecutive
	// frames. It is a per-type constant.
	ExpectedTickDifference() Tick

	// SystemType returns the per-type system tag.
	SystemType() SystemType
}

// Validator is implemented by records that can tell whether their
// timestamps are trustworthy. Records that do not implement it are always
// trusted.
type Validator interface {
	Valid() bool
}

// span returns the number of ticks a record covers.
func span[T Record](rec T) Tick {
	return Tick(rec.FrameCount()) * rec.ExpectedTickDifference()
}

// spanEnd returns the first tick after the half-open range
// [FirstTimestamp, FirstTimestamp+span) covered by rec.
func spanEnd[T Record](rec T) Tick {
	return rec.FirstTimestamp() + span(rec)
}

// Trusted reports whether rec passes its Validator check, if it has one.
func Trusted[T Record](rec T) bool {
	if v, ok := any(rec).(Validator); ok {
		return v.Valid()
	}
	return true
}
