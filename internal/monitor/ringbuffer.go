package monitor

import (
	"sync"
)

// history keeps the most recent values added to it. Once full, adding a
// value evicts the oldest one.
type history[T any] struct {
	mu    sync.Mutex
	slots []T
	next  int
	count int
}

// newHistory returns a history holding up to depth values.
func newHistory[T any](depth int) *history[T] {
	if depth <= 0 {
		panic("monitor: history depth must be positive")
	}
	return &history[T]{slots: make([]T, depth)}
}

// add appends value, evicting the oldest value when full.
func (h *history[T]) add(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.slots[h.next] = value
	h.next++
	if h.next == len(h.slots) {
		h.next = 0
	}
	if h.count < len(h.slots) {
		h.count++
	}
}

// get returns the values from oldest to newest.
func (h *history[T]) get() []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]T, 0, h.count)
	start := h.next - h.count
	if start < 0 {
		start += len(h.slots)
	}
	for i := 0; i < h.count; i++ {
		j := start + i
		if j >= len(h.slots) {
			j -= len(h.slots)
		}
		out = append(out, h.slots[j])
	}
	return out
}

// latest returns the newest value, or false when empty.
func (h *history[T]) latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	if h.count == 0 {
		return zero, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.slots) - 1
	}
	return h.slots[i], true
}
