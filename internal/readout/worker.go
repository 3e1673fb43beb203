// Package readout holds the consumers that look records up in, or trim, a
// latency buffer while the producer keeps filling it.
package readout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrRunning = errors.New("readout: already running")

// worker calls fn every interval until stopped.
type worker struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) start(interval time.Duration, fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrRunning
	}
	if interval <= 0 {
		return fmt.Errorf("readout: invalid interval %s", interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func(done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}(w.done)
	return nil
}

func (w *worker) stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.cancel = nil
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
