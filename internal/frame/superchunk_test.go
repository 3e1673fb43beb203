package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sebogh/readoutq/internal/queue"
)

var _ queue.Record = SuperChunk{}
var _ queue.Validator = SuperChunk{}

func TestWithTimestamps(t *testing.T) {
	c := SuperChunk{}.WithTimestamps(1000, TickDifference)
	if c.FirstTimestamp() != 1000 {
		t.Fatalf("FirstTimestamp = %d, want 1000", c.FirstTimestamp())
	}
	if got, want := c.Frames[FramesPerChunk-1].Timestamp, uint64(1000+11*25); got != want {
		t.Errorf("last frame timestamp = %d, want %d", got, want)
	}
	if !c.Valid() {
		t.Errorf("freshly stamped chunk is not valid")
	}
}

func TestValid(t *testing.T) {
	base := SuperChunk{}.WithTimestamps(500, TickDifference)

	tests := []struct {
		name  string
		chunk SuperChunk
		valid bool
	}{
		{"clean", base, true},
		{"crc error only", base.WithFrameErrors([]uint16{0, ErrBitCRC}), true},
		{"timestamp error", base.WithFrameErrors([]uint16{0, 0, ErrBitTimestamp}), false},
		{"wrong spacing", SuperChunk{}.WithTimestamps(500, 32), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chunk.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	c := SuperChunk{}.WithTimestamps(123456789, TickDifference).WithFrameErrors([]uint16{ErrBitCRC})
	copy(c.Frames[3].Payload[:], "payload")

	b, err := c.AppendBinary(nil)
	if err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}
	if len(b) != ChunkSize {
		t.Fatalf("encoded length = %d, want %d", len(b), ChunkSize)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != c {
		t.Errorf("decoded chunk differs from the encoded one")
	}
	if !bytes.Equal(b[3*FrameSize+headerSize:3*FrameSize+headerSize+7], []byte("payload")) {
		t.Errorf("payload not at its wire offset")
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, ChunkSize-1)); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Decode error = %v, want ErrShortBuffer", err)
	}
}
