package readout

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebogh/readoutq/internal/queue"
)

// CleanerConfig configures a Cleaner.
type CleanerConfig struct {
	// Threshold is the fill fraction above which the oldest records are
	// discarded.
	Threshold float64       `yaml:"threshold"`
	Interval  time.Duration `yaml:"interval"`
}

// DefaultCleanerConfig returns the cleaner defaults.
func DefaultCleanerConfig() CleanerConfig {
	return CleanerConfig{
		Threshold: 0.8,
		Interval:  time.Millisecond,
	}
}

// Cleaner keeps a buffer's occupancy at or below a threshold when nothing
// else drains it.
type Cleaner[T queue.Record] struct {
	cfg    CleanerConfig
	rb     *queue.RingBuffer[T]
	limit  int
	logger zerolog.Logger
	worker worker

	popped atomic.Uint64
}

// NewCleaner returns a cleaner for rb.
func NewCleaner[T queue.Record](cfg CleanerConfig, rb *queue.RingBuffer[T], logger zerolog.Logger) (*Cleaner[T], error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("readout: cleanup threshold %v outside (0, 1]", cfg.Threshold)
	}
	return &Cleaner[T]{
		cfg:    cfg,
		rb:     rb,
		limit:  int(cfg.Threshold * float64(rb.Capacity())),
		logger: logger.With().Str("component", "cleaner").Logger(),
	}, nil
}

// Clean discards the records above the threshold and returns how many.
func (c *Cleaner[T]) Clean() int {
	excess := c.rb.Occupancy() - c.limit
	if excess <= 0 {
		return 0
	}
	n := c.rb.PopN(excess)
	c.popped.Add(uint64(n))
	return n
}

// Popped returns the total number of records discarded.
func (c *Cleaner[T]) Popped() uint64 {
	return c.popped.Load()
}

func (c *Cleaner[T]) Name() string { return "cleaner" }

func (c *Cleaner[T]) Conf(context.Context) error { return nil }

func (c *Cleaner[T]) Start(context.Context) error {
	c.logger.Debug().Int("limit", c.limit).Msg("starting")
	return c.worker.start(c.cfg.Interval, func() { c.Clean() })
}

func (c *Cleaner[T]) Stop(ctx context.Context) error {
	return c.worker.stop(ctx)
}

func (c *Cleaner[T]) Scrap(context.Context) error { return nil }
