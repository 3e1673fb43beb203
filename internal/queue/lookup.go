package queue

import (
	"errors"
	"fmt"
)

// ErrUnknownStrategy is returned for an unrecognized lookup strategy name.
var ErrUnknownStrategy = errors.New("queue: unknown lookup strategy")

// Lookup finds records in a RingBuffer by timestamp.
//
// A record covers the half-open tick range
// [FirstTimestamp, FirstTimestamp + FrameCount*ExpectedTickDifference).
// LowerBound returns an iterator at the first record, in cursor order, whose
// range ends after target: the record containing target, or the next one if
// target falls in a gap between records. It returns End when target lies
// before the oldest retained record or at/after the end of the newest one.
//
// This is not "the first record with FirstTimestamp >= target": a target
// inside a record's range yields that record even though its first
// timestamp is smaller. With records starting at 100, 140 and 180, each 40
// ticks long, target 150 yields the record at 140. Callers that need a
// strict bound can step once with Next when Value().FirstTimestamp() <
// target.
//
// With withErrors set, records whose timestamps cannot be trusted (see
// Validator) are skipped by a linear scan.
type Lookup[T Record] interface {
	LowerBound(target Tick, withErrors bool) Iterator[T]
}

// Strategy names a Lookup implementation.
type Strategy string

const (
	StrategyBinarySearch Strategy = "binary_search"
	StrategyFixedRate    Strategy = "fixed_rate"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBinarySearch, StrategyFixedRate:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// NewLookup returns the lookup for strategy s over rb.
func NewLookup[T Record](rb *RingBuffer[T], s Strategy) (Lookup[T], error) {
	switch s {
	case StrategyBinarySearch:
		return NewBinarySearch(rb), nil
	case StrategyFixedRate:
		return NewFixedRate(rb), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}
