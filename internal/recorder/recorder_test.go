package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"

	"github.com/sebogh/readoutq/internal/frame"
	"github.com/sebogh/readoutq/internal/queue"
)

// readBack returns the decompressed contents of path.
func readBack(t *testing.T, path string, c Compression) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	switch c {
	case CompressionLZ4:
		r = lz4.NewReader(f)
	case CompressionZstd:
		d, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd reader: %v", err)
		}
		defer d.Close()
		r = d
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return data
}

func TestRecorder(t *testing.T) {
	const n = 200
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			rb := queue.NewRingBuffer[frame.SuperChunk](256)
			for i := 0; i < n; i++ {
				rb.Push(frame.SuperChunk{}.WithTimestamps(queue.Tick(i*300), frame.TickDifference))
			}

			cfg := DefaultConfig()
			cfg.OutputFile = filepath.Join(t.TempDir(), "out.bin")
			cfg.Compression = string(c)
			cfg.StreamBufferSize = 4096
			if err := os.WriteFile(cfg.OutputFile, []byte("previous run"), 0o644); err != nil {
				t.Fatal(err)
			}

			r := New[frame.SuperChunk]("test", cfg, rb, zerolog.Nop())
			ctx := context.Background()
			if err := r.Conf(ctx); err != nil {
				t.Fatalf("Conf: %v", err)
			}
			if err := r.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			deadline := time.Now().Add(5 * time.Second)
			for r.processed.Load() < n {
				if time.Now().After(deadline) {
					t.Fatalf("processed %d of %d records", r.processed.Load(), n)
				}
				time.Sleep(time.Millisecond)
			}
			if err := r.Stop(ctx); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if info := r.Info(); info.PacketsProcessed != n {
				t.Errorf("PacketsProcessed = %d, want %d", info.PacketsProcessed, n)
			}
			if err := r.Scrap(ctx); err != nil {
				t.Fatalf("Scrap: %v", err)
			}

			data := readBack(t, cfg.OutputFile, c)
			if len(data) != n*frame.ChunkSize {
				t.Fatalf("output holds %d bytes, want %d", len(data), n*frame.ChunkSize)
			}
			for i := 0; i < n; i++ {
				chunk, err := frame.Decode(data[i*frame.ChunkSize:])
				if err != nil {
					t.Fatalf("decode record %d: %v", i, err)
				}
				if got, want := chunk.FirstTimestamp(), queue.Tick(i*300); got != want {
					t.Fatalf("record %d: timestamp %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestRecorder_StartBeforeConf(t *testing.T) {
	rb := queue.NewRingBuffer[frame.SuperChunk](1)
	r := New[frame.SuperChunk]("test", DefaultConfig(), rb, zerolog.Nop())
	if err := r.Start(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Start error = %v, want ErrNotOpen", err)
	}
}

func TestRecorder_InfoSharedByReaders(t *testing.T) {
	rb := queue.NewRingBuffer[frame.SuperChunk](1)
	r := New[frame.SuperChunk]("test", DefaultConfig(), rb, zerolog.Nop())
	r.processed.Store(1000)
	r.windowAt = time.Now().Add(-throughputWindow)

	first := r.Info()
	second := r.Info()
	if first.Throughput < 900 || first.Throughput > 1000 {
		t.Fatalf("throughput = %.1f, want about 1000", first.Throughput)
	}
	if second.Throughput != first.Throughput {
		t.Errorf("second reader saw %.1f, first %.1f", second.Throughput, first.Throughput)
	}
	if second.PacketsProcessed != 1000 {
		t.Errorf("processed = %d, want 1000", second.PacketsProcessed)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
		err  error
	}{
		{"", CompressionNone, nil},
		{"none", CompressionNone, nil},
		{"lz4", CompressionLZ4, nil},
		{"zstd", CompressionZstd, nil},
		{"gzip", "", ErrUnknownCompression},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Errorf("ParseCompression(%q) = %q, %v; want %q, %v", tt.in, got, err, tt.want, tt.err)
		}
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

func TestAlignedWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aligned.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	a := newAlignedWriter(f, 5000)
	if len(a.buf) != 4096 {
		t.Fatalf("buffer size = %d, want 4096", len(a.buf))
	}

	want := pattern(10000)
	for i := 0; i < len(want); i += 777 {
		end := min(i+777, len(want))
		if _, err := a.Write(want[i:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if i == 777*5 {
			if err := a.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("file holds %d bytes, want the %d written", len(got), len(want))
	}
}

func TestBufferedFileWriter_DirectIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.bin")
	var w BufferedFileWriter
	if err := w.Open(path, 8192, CompressionNone, true); err != nil {
		t.Skipf("direct I/O unavailable here: %v", err)
	}
	want := pattern(12345)
	if err := w.Write(want); errors.Is(err, syscall.EINVAL) {
		t.Skipf("filesystem rejects direct I/O writes: %v", err)
	} else if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); errors.Is(err, syscall.EINVAL) {
		t.Skipf("filesystem rejects direct I/O writes: %v", err)
	} else if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(want); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Write after Close error = %v, want ErrNotOpen", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("file holds %d bytes, want %d", len(got), len(want))
	}
}
