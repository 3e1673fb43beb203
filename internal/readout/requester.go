package readout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebogh/readoutq/internal/queue"
)

// RequesterConfig configures a Requester.
type RequesterConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// WindowOffset is where a request window starts, in ticks after the
	// oldest retained record.
	WindowOffset uint64 `yaml:"window_offset"`

	// WindowWidth is the request window length in ticks.
	WindowWidth uint64 `yaml:"window_width"`

	// WithErrors selects the error-tolerant lookup.
	WithErrors bool `yaml:"with_errors"`
}

// DefaultRequesterConfig returns the requester defaults.
func DefaultRequesterConfig() RequesterConfig {
	return RequesterConfig{
		Enabled:      true,
		Interval:     100 * time.Millisecond,
		WindowOffset: 10000,
		WindowWidth:  3000,
	}
}

// RequesterInfo is a statistics snapshot.
type RequesterInfo struct {
	Requests uint64
	Found    uint64
	NotFound uint64
	Records  uint64
}

// Collect returns copies of the records whose first timestamp lies in
// [begin, end), walking forward from the lower bound of begin. With
// withErrors, untrusted records are left out.
func Collect[T queue.Record](lookup queue.Lookup[T], begin, end queue.Tick, withErrors bool) []T {
	var out []T
	for it := lookup.LowerBound(begin, withErrors); !it.IsEnd(); it.Next() {
		rec := it.Value()
		if withErrors && !queue.Trusted(rec) {
			continue
		}
		if rec.FirstTimestamp() >= end {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Requester periodically asks the buffer for a window of data, the way a
// trigger request would.
type Requester[T queue.Record] struct {
	name   string
	cfg    RequesterConfig
	rb     *queue.RingBuffer[T]
	lookup queue.Lookup[T]
	logger zerolog.Logger
	worker worker

	requests atomic.Uint64
	found    atomic.Uint64
	notFound atomic.Uint64
	records  atomic.Uint64
}

// NewRequester returns a requester querying rb through lookup.
func NewRequester[T queue.Record](name string, cfg RequesterConfig, rb *queue.RingBuffer[T], lookup queue.Lookup[T], logger zerolog.Logger) *Requester[T] {
	return &Requester[T]{
		name:   name,
		cfg:    cfg,
		rb:     rb,
		lookup: lookup,
		logger: logger.With().Str("component", "requester").Str("name", name).Logger(),
	}
}

// Request collects the window [begin, end) and updates the counters.
func (r *Requester[T]) Request(begin, end queue.Tick) []T {
	recs := Collect(r.lookup, begin, end, r.cfg.WithErrors)
	r.requests.Add(1)
	if len(recs) == 0 {
		r.notFound.Add(1)
		r.logger.Debug().
			Uint64("begin", uint64(begin)).
			Uint64("end", uint64(end)).
			Msg("requested window not in buffer")
	} else {
		r.found.Add(1)
		r.records.Add(uint64(len(recs)))
	}
	return recs
}

// Info returns the request counters.
func (r *Requester[T]) Info() RequesterInfo {
	return RequesterInfo{
		Requests: r.requests.Load(),
		Found:    r.found.Load(),
		NotFound: r.notFound.Load(),
		Records:  r.records.Load(),
	}
}

func (r *Requester[T]) Name() string { return r.name }

func (r *Requester[T]) Conf(context.Context) error { return nil }

func (r *Requester[T]) Start(context.Context) error {
	return r.worker.start(r.cfg.Interval, r.tick)
}

func (r *Requester[T]) Stop(ctx context.Context) error {
	return r.worker.stop(ctx)
}

func (r *Requester[T]) Scrap(context.Context) error { return nil }

func (r *Requester[T]) tick() {
	front, ok := r.rb.Front()
	if !ok {
		return
	}
	begin := front.FirstTimestamp() + queue.Tick(r.cfg.WindowOffset)
	r.Request(begin, begin+queue.Tick(r.cfg.WindowWidth))
}
