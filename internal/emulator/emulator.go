// Package emulator replays records from a sample file into a queue at a
// configurable rate, with optional dropouts and frame errors.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sebogh/readoutq/internal/queue"
)

var (
	ErrNotConfigured  = errors.New("emulator: not configured")
	ErrRunning        = errors.New("emulator: already running")
	ErrTickDifference = errors.New("emulator: tick difference does not match the record type")
)

// Config configures an Emulator.
type Config struct {
	// DataFile is the sample file replayed in a loop.
	DataFile string `yaml:"data_file"`

	// InputLimit caps how many bytes of DataFile are loaded (0: no cap).
	InputLimit int64 `yaml:"input_limit"`

	// SetT0To overrides the first timestamp when >= 0. Otherwise the
	// timestamp of the first record in DataFile is used.
	SetT0To int64 `yaml:"set_t0_to"`

	// TickDifference is the tick spacing stamped between frames. It must
	// equal the record type's ExpectedTickDifference; 0 uses that value.
	TickDifference uint64 `yaml:"tick_difference"`

	DropoutRate    float64 `yaml:"dropout_rate"`
	FrameErrorRate float64 `yaml:"frame_error_rate"`

	// RateKHz is the output rate in thousands of records per second,
	// divided by Slowdown. A non-positive rate disables the limiter.
	RateKHz  float64 `yaml:"rate_khz"`
	Slowdown float64 `yaml:"slowdown"`

	// RandomPopulationSize is the length of the precomputed dropout and
	// error-bit sequences.
	RandomPopulationSize int `yaml:"random_population_size"`

	// Seed seeds the populations; 0 picks a random seed.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the emulator defaults.
func DefaultConfig() Config {
	return Config{
		SetT0To:              -1,
		TickDifference:       25,
		RateKHz:              166,
		Slowdown:             1,
		RandomPopulationSize: 10000,
	}
}

// Sink receives generated records.
type Sink[T any] interface {
	Push(rec T) bool
}

// Synthesizable is a record the emulator can re-stamp and corrupt.
type Synthesizable[T any] interface {
	queue.Record
	WithTimestamps(first, tickDiff queue.Tick) T
	WithFrameErrors(bits []uint16) T
}

// Decoder parses one record from its raw bytes.
type Decoder[T any] func(b []byte) (T, error)

// Info is a statistics snapshot.
type Info struct {
	Packets    uint64 // generated since Start
	NewPackets uint64 // generated since the previous Info call
	Overflows  uint64 // rejected by a full sink since Start
}

// Emulator is a source of synthetic records.
type Emulator[T Synthesizable[T]] struct {
	name       string
	cfg        Config
	sink       Sink[T]
	decode     Decoder[T]
	recordSize int

	logger      zerolog.Logger
	overflowLog zerolog.Logger

	mu         sync.Mutex
	configured bool
	records    []T
	dropouts   []bool
	errorBits  *ErrorBitGenerator
	cancel     context.CancelFunc
	done       chan struct{}

	packets    atomic.Uint64
	newPackets atomic.Uint64
	overflows  atomic.Uint64
}

// New returns an emulator pushing into sink. recordSize is the encoded size
// of one record in the sample file.
func New[T Synthesizable[T]](name string, cfg Config, sink Sink[T], decode Decoder[T], recordSize int, logger zerolog.Logger) *Emulator[T] {
	logger = logger.With().Str("component", "emulator").Str("name", name).Logger()
	return &Emulator[T]{
		name:        name,
		cfg:         cfg,
		sink:        sink,
		decode:      decode,
		recordSize:  recordSize,
		logger:      logger,
		overflowLog: logger.Sample(&zerolog.BasicSampler{N: 10000}),
	}
}

// Name returns the emulator's name.
func (e *Emulator[T]) Name() string {
	return e.name
}

// Conf loads the sample file and precomputes the random populations.
func (e *Emulator[T]) Conf(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.configured {
		e.logger.Debug().Msg("already configured")
		return nil
	}

	source := NewFileSource(e.cfg.InputLimit, e.recordSize)
	if err := source.Read(e.cfg.DataFile); err != nil {
		return fmt.Errorf("configure emulator %s: %w", e.name, err)
	}
	records := make([]T, 0, source.NumElements())
	for i := 0; i < source.NumElements(); i++ {
		rec, err := e.decode(source.Element(i))
		if err != nil {
			return fmt.Errorf("decode record %d of %s: %w", i, e.cfg.DataFile, err)
		}
		records = append(records, rec)
	}
	if want := records[0].ExpectedTickDifference(); e.cfg.TickDifference != 0 && queue.Tick(e.cfg.TickDifference) != want {
		return fmt.Errorf("configure emulator %s: %w: configured %d, records expect %d",
			e.name, ErrTickDifference, e.cfg.TickDifference, want)
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rnd := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	e.records = records
	e.dropouts = dropoutPopulation(e.cfg.DropoutRate, e.cfg.RandomPopulationSize, rnd)
	e.errorBits = NewErrorBitGenerator(e.cfg.FrameErrorRate, e.cfg.RandomPopulationSize, rnd)
	e.configured = true

	e.logger.Info().
		Str("file", e.cfg.DataFile).
		Int("records", len(records)).
		Float64("dropout_rate", e.cfg.DropoutRate).
		Float64("frame_error_rate", e.cfg.FrameErrorRate).
		Msg("configured")
	return nil
}

// Start launches the producer goroutine.
func (e *Emulator[T]) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return ErrNotConfigured
	}
	if e.cancel != nil {
		return ErrRunning
	}

	e.packets.Store(0)
	e.newPackets.Store(0)
	e.overflows.Store(0)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.produce(ctx, newLimiter(e.cfg.RateKHz, e.cfg.Slowdown), e.done)
	return nil
}

// Stop ends the producer goroutine and waits for it, or for ctx.
func (e *Emulator[T]) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return nil
	}
	e.cancel()
	e.cancel = nil
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop emulator %s: %w", e.name, ctx.Err())
	}
}

// Scrap releases the sample data.
func (e *Emulator[T]) Scrap(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrRunning
	}
	e.records = nil
	e.dropouts = nil
	e.errorBits = nil
	e.configured = false
	return nil
}

// Info returns the packet counters and resets the NewPackets window.
func (e *Emulator[T]) Info() Info {
	return Info{
		Packets:    e.packets.Load(),
		NewPackets: e.newPackets.Swap(0),
		Overflows:  e.overflows.Load(),
	}
}

func (e *Emulator[T]) produce(ctx context.Context, limiter *rate.Limiter, done chan<- struct{}) {
	defer close(done)
	e.logger.Debug().Msg("data generation started")

	tickDiff := queue.Tick(e.cfg.TickDifference)
	if tickDiff == 0 {
		tickDiff = e.records[0].ExpectedTickDifference()
	}
	ts := e.records[0].FirstTimestamp()
	if e.cfg.SetT0To >= 0 {
		ts = queue.Tick(e.cfg.SetT0To)
	}
	e.logger.Debug().Uint64("t0", uint64(ts)).Msg("first timestamp")

	var bits []uint16
	offset, dropIdx := 0, 0
	for ctx.Err() == nil {
		if offset == len(e.records) {
			offset = 0
		}
		tmpl := e.records[offset]
		frames := tmpl.FrameCount()

		emit := e.dropouts[dropIdx]
		dropIdx++
		if dropIdx == len(e.dropouts) {
			dropIdx = 0
		}

		if emit {
			bits = bits[:0]
			for i := uint(0); i < frames; i++ {
				bits = append(bits, e.errorBits.Next())
			}
			rec := tmpl.WithTimestamps(ts, tickDiff).WithFrameErrors(bits)
			if !e.sink.Push(rec) {
				e.overflows.Add(1)
				e.overflowLog.Warn().Uint64("timestamp", uint64(ts)).Msg("queue full, record rejected")
			}
			offset++
			e.packets.Add(1)
			e.newPackets.Add(1)
		}

		ts += tickDiff * queue.Tick(frames)

		if err := limiter.Wait(ctx); err != nil {
			break
		}
	}
	e.logger.Debug().Uint64("packets", e.packets.Load()).Msg("data generation finished")
}

func newLimiter(rateKHz, slowdown float64) *rate.Limiter {
	if rateKHz <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if slowdown <= 0 {
		slowdown = 1
	}
	perSecond := rateKHz * 1000 / slowdown
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond/1000)))
}
