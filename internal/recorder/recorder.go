// Package recorder drains a queue into a (optionally compressed) file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebogh/readoutq/internal/queue"
)

const (
	popTimeout = 100 * time.Millisecond

	// throughputWindow is the shortest interval Throughput is measured over.
	throughputWindow = time.Second
)

var ErrRunning = errors.New("recorder: already running")

// Config configures a Recorder.
type Config struct {
	Enabled          bool   `yaml:"enabled"`
	OutputFile       string `yaml:"output_file"`
	StreamBufferSize int    `yaml:"stream_buffer_size"`
	Compression      string `yaml:"compression_algorithm"`
	UseODirect       bool   `yaml:"use_o_direct"`
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		OutputFile:       "output.bin",
		StreamBufferSize: 8 << 20,
		Compression:      string(CompressionNone),
	}
}

// Source is drained by the recorder.
type Source[T any] interface {
	Pop(timeout time.Duration) (T, error)
}

// BinaryRecord is a record with a raw byte encoding.
type BinaryRecord interface {
	AppendBinary(b []byte) ([]byte, error)
}

// Info is a statistics snapshot.
type Info struct {
	PacketsProcessed uint64
	// Throughput is in records per second over the last completed
	// measurement window. It does not depend on how often Info is called.
	Throughput float64
}

// Recorder pops records and appends their encoding to a file.
type Recorder[T BinaryRecord] struct {
	name   string
	cfg    Config
	source Source[T]
	logger zerolog.Logger

	mu     sync.Mutex
	writer BufferedFileWriter
	cancel context.CancelFunc
	done   chan struct{}

	processed atomic.Uint64

	rateMu     sync.Mutex
	windowAt   time.Time
	windowBase uint64
	throughput float64
}

// New returns a recorder draining source.
func New[T BinaryRecord](name string, cfg Config, source Source[T], logger zerolog.Logger) *Recorder[T] {
	return &Recorder[T]{
		name:   name,
		cfg:    cfg,
		source: source,
		logger: logger.With().Str("component", "recorder").Str("name", name).Logger(),
	}
}

// Name returns the recorder's name.
func (r *Recorder[T]) Name() string {
	return r.name
}

// Conf removes output left from a previous run and opens the output file.
func (r *Recorder[T]) Conf(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.cfg.OutputFile); err == nil {
		r.logger.Info().Str("file", r.cfg.OutputFile).Msg("removed existing output file from previous run")
	}
	err := r.writer.Open(r.cfg.OutputFile, r.cfg.StreamBufferSize, Compression(r.cfg.Compression), r.cfg.UseODirect)
	if err != nil {
		return fmt.Errorf("configure recorder %s: %w", r.name, err)
	}
	r.logger.Info().
		Str("file", r.cfg.OutputFile).
		Str("compression", r.cfg.Compression).
		Bool("o_direct", r.cfg.UseODirect).
		Msg("configured")
	return nil
}

// Start launches the work loop.
func (r *Recorder[T]) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.writer.IsOpen() {
		return ErrNotOpen
	}
	if r.cancel != nil {
		return ErrRunning
	}

	r.processed.Store(0)
	r.rateMu.Lock()
	r.windowAt, r.windowBase, r.throughput = time.Now(), 0, 0
	r.rateMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.work(ctx, r.done)
	return nil
}

// Stop ends the work loop, which flushes the writer before returning.
func (r *Recorder[T]) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	r.cancel = nil
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop recorder %s: %w", r.name, ctx.Err())
	}
}

// Scrap closes the output file.
func (r *Recorder[T]) Scrap(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrRunning
	}
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.cfg.OutputFile, err)
	}
	return nil
}

// Info returns the processed count and the throughput. A new throughput
// value is computed once at least throughputWindow has passed since the
// previous one, so concurrent readers all see the same rate.
func (r *Recorder[T]) Info() Info {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()

	processed := r.processed.Load()
	now := time.Now()
	if elapsed := now.Sub(r.windowAt); elapsed >= throughputWindow {
		r.throughput = float64(processed-r.windowBase) / elapsed.Seconds()
		r.windowAt = now
		r.windowBase = processed
	}
	return Info{PacketsProcessed: processed, Throughput: r.throughput}
}

func (r *Recorder[T]) work(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var buf []byte
	for ctx.Err() == nil {
		rec, err := r.source.Pop(popTimeout)
		if errors.Is(err, queue.ErrTimeout) {
			continue
		}
		if err != nil {
			r.logger.Error().Err(err).Msg("pop failed")
			break
		}
		r.processed.Add(1)

		buf, err = rec.AppendBinary(buf[:0])
		if err == nil {
			err = r.writer.Write(buf)
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("file", r.cfg.OutputFile).Msg("cannot write to file")
			break
		}
	}
	if err := r.writer.Flush(); err != nil {
		r.logger.Warn().Err(err).Str("file", r.cfg.OutputFile).Msg("flush failed")
	}
}
