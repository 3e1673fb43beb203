// Package frame defines the record types produced by the readout front ends.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sebogh/readoutq/internal/queue"
)

const (
	// FramesPerChunk is the number of frames packed into a SuperChunk.
	FramesPerChunk = 12

	// TickDifference is the nominal number of ticks between two frames.
	TickDifference queue.Tick = 25

	// FrameSize is the encoded size of a Frame in bytes.
	FrameSize = 64

	// ChunkSize is the encoded size of a SuperChunk in bytes.
	ChunkSize = FramesPerChunk * FrameSize

	// SystemTypeTPC tags SuperChunks.
	SystemTypeTPC queue.SystemType = 1

	headerSize  = 16
	payloadSize = FrameSize - headerSize
)

// Error bits carried in Frame.ErrorBits.
const (
	ErrBitTimestamp uint16 = 1 << iota
	ErrBitCRC
	ErrBitOverflow
)

// ErrShortBuffer is returned when decoding from fewer than ChunkSize bytes.
var ErrShortBuffer = errors.New("frame: short buffer")

// Frame is a single sample as laid out on the wire:
//
//	0..8    timestamp, little endian
//	8..10   error bits, little endian
//	10..16  reserved
//	16..64  payload
type Frame struct {
	Timestamp uint64
	ErrorBits uint16
	Payload   [payloadSize]byte
}

// SuperChunk bundles FramesPerChunk consecutive frames of one link.
type SuperChunk struct {
	Frames [FramesPerChunk]Frame
}

func (c SuperChunk) FirstTimestamp() queue.Tick {
	return queue.Tick(c.Frames[0].Timestamp)
}

func (c SuperChunk) FrameCount() uint {
	return FramesPerChunk
}

func (c SuperChunk) ExpectedTickDifference() queue.Tick {
	return TickDifference
}

func (c SuperChunk) SystemType() queue.SystemType {
	return SystemTypeTPC
}

// Valid reports whether the chunk's timestamps can be trusted: no frame
// flags a timestamp error and frames are exactly TickDifference apart.
func (c SuperChunk) Valid() bool {
	first := c.Frames[0].Timestamp
	for i := range c.Frames {
		f := &c.Frames[i]
		if f.ErrorBits&ErrBitTimestamp != 0 {
			return false
		}
		if f.Timestamp != first+uint64(i)*uint64(TickDifference) {
			return false
		}
	}
	return true
}

// WithTimestamps returns a copy of c whose frames are stamped first,
// first+tickDiff, first+2*tickDiff, ...
func (c SuperChunk) WithTimestamps(first, tickDiff queue.Tick) SuperChunk {
	for i := range c.Frames {
		c.Frames[i].Timestamp = uint64(first + queue.Tick(i)*tickDiff)
	}
	return c
}

// WithFrameErrors returns a copy of c with bits[i] as the error bits of
// frame i. Frames beyond len(bits) are left unchanged.
func (c SuperChunk) WithFrameErrors(bits []uint16) SuperChunk {
	for i := 0; i < len(bits) && i < FramesPerChunk; i++ {
		c.Frames[i].ErrorBits = bits[i]
	}
	return c
}

// AppendBinary appends the wire encoding of c to b.
func (c SuperChunk) AppendBinary(b []byte) ([]byte, error) {
	var reserved [headerSize - 10]byte
	for i := range c.Frames {
		f := &c.Frames[i]
		b = binary.LittleEndian.AppendUint64(b, f.Timestamp)
		b = binary.LittleEndian.AppendUint16(b, f.ErrorBits)
		b = append(b, reserved[:]...)
		b = append(b, f.Payload[:]...)
	}
	return b, nil
}

// Decode parses the first ChunkSize bytes of b.
func Decode(b []byte) (SuperChunk, error) {
	var c SuperChunk
	if len(b) < ChunkSize {
		return c, fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(b), ChunkSize)
	}
	for i := range c.Frames {
		raw := b[i*FrameSize : (i+1)*FrameSize]
		f := &c.Frames[i]
		f.Timestamp = binary.LittleEndian.Uint64(raw[0:8])
		f.ErrorBits = binary.LittleEndian.Uint16(raw[8:10])
		copy(f.Payload[:], raw[headerSize:])
	}
	return c, nil
}
