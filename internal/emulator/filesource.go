package emulator

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrSourceTooSmall is returned when a sample file holds less than one
// element.
var ErrSourceTooSmall = errors.New("emulator: source file smaller than one element")

// FileSource holds a sample file in memory, split into fixed-size elements.
type FileSource struct {
	limit       int64
	elementSize int
	data        []byte
}

// NewFileSource returns a source reading at most limit bytes (no limit if
// limit <= 0) of elementSize-byte elements.
func NewFileSource(limit int64, elementSize int) *FileSource {
	return &FileSource{
		limit:       limit,
		elementSize: elementSize,
	}
}

// Read loads the file at path.
func (fs *FileSource) Read(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	size := st.Size()
	if fs.limit > 0 && size > fs.limit {
		size = fs.limit
	}
	if size < int64(fs.elementSize) {
		return fmt.Errorf("%s (%d bytes): %w", path, size, ErrSourceTooSmall)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	fs.data = data
	return nil
}

// NumElements returns the number of whole elements loaded.
func (fs *FileSource) NumElements() int {
	if fs.elementSize <= 0 {
		return 0
	}
	return len(fs.data) / fs.elementSize
}

// Element returns the raw bytes of element i.
func (fs *FileSource) Element(i int) []byte {
	return fs.data[i*fs.elementSize : (i+1)*fs.elementSize]
}
