package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ncw/directio"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the output stream compression.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

var (
	ErrUnknownCompression = errors.New("recorder: unknown compression algorithm")
	ErrNotOpen            = errors.New("recorder: writer is not open")
)

// ParseCompression validates a compression name. The empty string means
// CompressionNone.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// flusher is the buffering stage below the compressor.
type flusher interface {
	io.Writer
	Flush() error
}

// BufferedFileWriter appends bytes to a file through a write buffer and an
// optional compressor. With direct I/O the file bypasses the page cache and
// the buffer is block aligned.
type BufferedFileWriter struct {
	path string
	file *os.File
	buf  flusher
	enc  io.WriteCloser
	out  io.Writer
}

// Open creates (truncating) the file at path.
func (w *BufferedFileWriter) Open(path string, bufferSize int, compression Compression, directIO bool) error {
	if w.file != nil {
		return fmt.Errorf("writer already open on %s", w.path)
	}
	compression, err := ParseCompression(string(compression))
	if err != nil {
		return err
	}

	var f *os.File
	if directIO {
		f, err = directio.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	} else {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}

	var buf flusher
	if directIO {
		buf = newAlignedWriter(f, bufferSize)
	} else {
		buf = bufio.NewWriterSize(f, max(bufferSize, 4096))
	}

	var enc io.WriteCloser
	switch compression {
	case CompressionLZ4:
		enc = lz4.NewWriter(buf)
	case CompressionZstd:
		zw, err := zstd.NewWriter(buf)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		enc = zw
	}

	w.path = path
	w.file = f
	w.buf = buf
	w.enc = enc
	w.out = buf
	if enc != nil {
		w.out = enc
	}
	return nil
}

// IsOpen reports whether the writer has an open file.
func (w *BufferedFileWriter) IsOpen() bool {
	return w.file != nil
}

// Write appends p.
func (w *BufferedFileWriter) Write(p []byte) error {
	if w.out == nil {
		return ErrNotOpen
	}
	_, err := w.out.Write(p)
	return err
}

// Flush pushes buffered data towards the file. With direct I/O a trailing
// partial block stays buffered until Close.
func (w *BufferedFileWriter) Flush() error {
	if w.file == nil {
		return ErrNotOpen
	}
	if f, ok := w.enc.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush compressor: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close finishes the compressed stream, writes what is buffered and closes
// the file. Closing a closed writer is a no-op.
func (w *BufferedFileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	var errs []error
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
	}
	if a, ok := w.buf.(*alignedWriter); ok {
		errs = append(errs, a.Close())
	} else {
		errs = append(errs, w.buf.Flush())
	}
	errs = append(errs, w.file.Close())

	w.file, w.buf, w.enc, w.out = nil, nil, nil, nil
	return errors.Join(errs...)
}

// alignedWriter buffers into a block-aligned slice and only ever writes
// whole blocks. The final partial block is zero padded on Close and the file
// truncated back to the bytes actually written.
type alignedWriter struct {
	f       *os.File
	buf     []byte
	n       int
	written int64
}

func newAlignedWriter(f *os.File, size int) *alignedWriter {
	size = max(directio.BlockSize, size/directio.BlockSize*directio.BlockSize)
	return &alignedWriter{
		f:   f,
		buf: directio.AlignedBlock(size),
	}
}

func (a *alignedWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		c := copy(a.buf[a.n:], p)
		a.n += c
		p = p[c:]
		if a.n == len(a.buf) {
			if err := a.writeBlocks(a.n); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// Flush writes all complete blocks.
func (a *alignedWriter) Flush() error {
	k := a.n / directio.BlockSize * directio.BlockSize
	if k == 0 {
		return nil
	}
	return a.writeBlocks(k)
}

// Close writes the padded tail and trims the padding off the file.
func (a *alignedWriter) Close() error {
	if err := a.Flush(); err != nil {
		return err
	}
	if a.n == 0 {
		return nil
	}
	tail := a.n
	clear(a.buf[tail:directio.BlockSize])
	if _, err := a.f.Write(a.buf[:directio.BlockSize]); err != nil {
		return fmt.Errorf("write tail block: %w", err)
	}
	a.written += int64(tail)
	a.n = 0
	if err := a.f.Truncate(a.written); err != nil {
		return fmt.Errorf("truncate padding: %w", err)
	}
	return nil
}

// writeBlocks writes buf[:k] (k a multiple of the block size) and moves the
// remainder to the front of the buffer.
func (a *alignedWriter) writeBlocks(k int) error {
	if _, err := a.f.Write(a.buf[:k]); err != nil {
		return fmt.Errorf("write blocks: %w", err)
	}
	a.written += int64(k)
	a.n = copy(a.buf, a.buf[k:a.n])
	return nil
}
