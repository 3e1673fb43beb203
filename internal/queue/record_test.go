package queue

const testTickDiff Tick = 10

// testRecord is a minimal Record with a tick spacing of 10.
type testRecord struct {
	ts     Tick
	frames uint
	bad    bool
}

func (r testRecord) FirstTimestamp() Tick         { return r.ts }
func (r testRecord) FrameCount() uint             { return r.frames }
func (r testRecord) ExpectedTickDifference() Tick { return testTickDiff }
func (r testRecord) SystemType() SystemType       { return 1 }
func (r testRecord) Valid() bool                  { return !r.bad }

// fillUniform pushes n back-to-back records of the given frame count
// starting at base.
func fillUniform(rb *RingBuffer[testRecord], base Tick, frames uint, n int) {
	for i := 0; i < n; i++ {
		rb.Push(testRecord{ts: base + Tick(i)*Tick(frames)*testTickDiff, frames: frames})
	}
}

// rotate moves both cursors forward by n slots on an empty buffer so that
// following pushes wrap around the storage.
func rotate(rb *RingBuffer[testRecord], n int) {
	for i := 0; i < n; i++ {
		rb.Push(testRecord{frames: 1})
		rb.PopN(1)
	}
}
