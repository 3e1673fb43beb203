package queue

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
)

func strategies(rb *RingBuffer[testRecord]) map[string]Lookup[testRecord] {
	return map[string]Lookup[testRecord]{
		"binary_search": NewBinarySearch(rb),
		"fixed_rate":    NewFixedRate(rb),
	}
}

// bruteLowerBound returns the index into recs of the first record whose
// span ends after target, or -1.
func bruteLowerBound(recs []testRecord, target Tick) int {
	if len(recs) == 0 || target < recs[0].ts {
		return -1
	}
	for i, r := range recs {
		if spanEnd(r) > target {
			return i
		}
	}
	return -1
}

func TestBinarySearch_MonotonicRange(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	rb := NewRingBuffer[testRecord](16)
	rotate(rb, 11)

	var recs []testRecord
	ts := Tick(500)
	for i := 0; i < 16; i++ {
		rec := testRecord{ts: ts, frames: uint(1 + rnd.IntN(3))}
		recs = append(recs, rec)
		rb.Push(rec)
		ts = spanEnd(rec) + Tick(rnd.IntN(4))*testTickDiff + Tick(rnd.IntN(10))
	}

	bs := NewBinarySearch(rb)
	last := spanEnd(recs[len(recs)-1])
	for target := recs[0].ts; target < last; target++ {
		want := bruteLowerBound(recs, target)
		it := bs.LowerBound(target, false)
		if it.IsEnd() {
			t.Fatalf("LowerBound(%d) = End, want timestamp %d", target, recs[want].ts)
		}
		if got := it.Value(); got.ts != recs[want].ts {
			t.Fatalf("LowerBound(%d) = %d, want %d", target, got.ts, recs[want].ts)
		}
		// The scan must agree on clean data.
		if scan := bs.LowerBound(target, true); scan != it {
			t.Fatalf("scan LowerBound(%d) at %d, bisection at %d", target, scan.Index(), it.Index())
		}
	}
}

func TestLowerBound_OutOfRange(t *testing.T) {
	rb := NewRingBuffer[testRecord](8)
	for name, l := range strategies(rb) {
		if !l.LowerBound(0, false).IsEnd() {
			t.Errorf("%s: LowerBound on empty buffer is not End", name)
		}
	}

	rotate(rb, 5)
	fillUniform(rb, 1000, 2, 8)
	newestEnd := Tick(1000 + 8*2*10)
	for name, l := range strategies(rb) {
		for _, withErrors := range []bool{false, true} {
			for _, target := range []Tick{0, 999, newestEnd, newestEnd + 1, 1 << 40} {
				if it := l.LowerBound(target, withErrors); it != rb.End() {
					t.Errorf("%s(withErrors=%v): LowerBound(%d) at index %d, want End", name, withErrors, target, it.Index())
				}
			}
		}
	}
}

func TestFixedRate_MatchesBinarySearch(t *testing.T) {
	for _, tc := range []struct {
		rotate int
		frames uint
		n      int
	}{
		{0, 1, 8},
		{3, 2, 8},
		{7, 12, 8},
		{5, 3, 4},
		{2, 12, 1},
	} {
		rb := NewRingBuffer[testRecord](8)
		rotate(rb, tc.rotate)
		fillUniform(rb, 1000, tc.frames, tc.n)

		bs := NewBinarySearch(rb)
		fr := NewFixedRate(rb)
		last := 1000 + Tick(tc.n)*Tick(tc.frames)*testTickDiff
		for target := Tick(990); target < last+20; target++ {
			want := bs.LowerBound(target, false)
			if got := fr.LowerBound(target, false); got != want {
				t.Fatalf("rotate=%d frames=%d: LowerBound(%d) fixed rate at %d, binary search at %d",
					tc.rotate, tc.frames, target, got.Index(), want.Index())
			}
		}
	}
}

func TestLowerBound_Scenario(t *testing.T) {
	rb := NewRingBuffer[testRecord](4)
	for _, ts := range []Tick{100, 140, 180, 220} {
		rb.Push(testRecord{ts: ts, frames: 2})
	}
	bs := NewBinarySearch(rb)
	fr := NewFixedRate(rb)

	// Record 140 covers ticks 140 and 150.
	if got := bs.LowerBound(150, false).Value().ts; got != 140 {
		t.Errorf("binary search LowerBound(150) = %d, want 140", got)
	}
	if got := fr.LowerBound(150, true).Value().ts; got != 140 {
		t.Errorf("fixed rate LowerBound(150, withErrors) = %d, want 140", got)
	}
	// The stream has gaps, so extrapolating from the oldest record
	// overshoots by one record.
	if got := fr.LowerBound(150, false).Value().ts; got != 180 {
		t.Errorf("fixed rate LowerBound(150) = %d, want 180", got)
	}
	// Ticks in a gap resolve to the next record.
	if got := bs.LowerBound(165, false).Value().ts; got != 180 {
		t.Errorf("binary search LowerBound(165) = %d, want 180", got)
	}

	// The same scenario without gaps: both strategies agree.
	rb = NewRingBuffer[testRecord](4)
	fillUniform(rb, 100, 2, 4)
	bs = NewBinarySearch(rb)
	fr = NewFixedRate(rb)
	for _, target := range []Tick{100, 119, 120, 150, 179} {
		want := bs.LowerBound(target, false)
		if got := fr.LowerBound(target, false); got != want {
			t.Errorf("LowerBound(%d): fixed rate at %d, binary search at %d", target, got.Index(), want.Index())
		}
	}
	if got := fr.LowerBound(150, false).Value().ts; got != 140 {
		t.Errorf("fixed rate LowerBound(150) = %d, want 140", got)
	}
}

func TestLowerBound_ContainingRecordNotStrictBound(t *testing.T) {
	rb := NewRingBuffer[testRecord](4)
	fillUniform(rb, 100, 4, 3) // 100, 140, 180

	for name, lookup := range strategies(rb) {
		it := lookup.LowerBound(150, false)
		if got := it.Value().ts; got != 140 {
			t.Fatalf("%s: LowerBound(150) = %d, want the containing record 140", name, got)
		}
		if it.Value().FirstTimestamp() < 150 {
			it.Next()
		}
		if got := it.Value().ts; got != 180 {
			t.Errorf("%s: first record at or after 150 = %d, want 180", name, got)
		}
		if got := lookup.LowerBound(140, false).Value().ts; got != 140 {
			t.Errorf("%s: LowerBound(140) = %d, want 140", name, got)
		}
	}
}

func TestLowerBound_WithErrorsSkipsInvalid(t *testing.T) {
	rb := NewRingBuffer[testRecord](8)
	rotate(rb, 6)
	for _, rec := range []testRecord{
		{ts: 1 << 50, frames: 2, bad: true},
		{ts: 100, frames: 2},
		{ts: 120, frames: 2},
		{ts: 3, frames: 2, bad: true},
		{ts: 160, frames: 2},
		{ts: 180, frames: 2},
	} {
		rb.Push(rec)
	}

	for name, l := range strategies(rb) {
		cases := []struct {
			target Tick
			want   Tick
			end    bool
		}{
			{target: 50, end: true},
			{target: 100, want: 100},
			{target: 125, want: 120},
			{target: 140, want: 160},
			{target: 199, want: 180},
			{target: 200, end: true},
		}
		for _, c := range cases {
			it := l.LowerBound(c.target, true)
			if c.end {
				if !it.IsEnd() {
					t.Errorf("%s: LowerBound(%d) = %d, want End", name, c.target, it.Value().ts)
				}
				continue
			}
			if it.IsEnd() || it.Value().ts != c.want {
				t.Errorf("%s: LowerBound(%d) at index %d, want timestamp %d", name, c.target, it.Index(), c.want)
			}
		}
	}
}

func TestNewLookup(t *testing.T) {
	rb := NewRingBuffer[testRecord](2)
	l, err := NewLookup(rb, StrategyFixedRate)
	if err != nil {
		t.Fatalf("NewLookup: %v", err)
	}
	if _, ok := l.(*FixedRate[testRecord]); !ok {
		t.Errorf("NewLookup(fixed_rate) returned %T", l)
	}
	if _, err := NewLookup(rb, Strategy("linear")); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("NewLookup(linear) error = %v, want ErrUnknownStrategy", err)
	}
	if s, err := ParseStrategy("binary_search"); err != nil || s != StrategyBinarySearch {
		t.Errorf("ParseStrategy(binary_search) = %q, %v", s, err)
	}
	if _, err := ParseStrategy(""); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("ParseStrategy(\"\") error = %v, want ErrUnknownStrategy", err)
	}
}

func TestLowerBound_ConcurrentWithProducer(t *testing.T) {
	const n = 4000
	rb := NewRingBuffer[testRecord](n)
	rb.Push(testRecord{ts: 0, frames: 12})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < n; i++ {
			rb.Push(testRecord{ts: Tick(i) * 120, frames: 12})
		}
	}()

	for name, l := range strategies(rb) {
		wg.Add(1)
		go func(name string, l Lookup[testRecord]) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				back, _ := rb.Back()
				target := back.ts / 2
				it := l.LowerBound(target+5, false)
				if it.IsEnd() {
					t.Errorf("%s: LowerBound(%d) = End with newest %d retained", name, target+5, back.ts)
					return
				}
				if got := it.Value().ts; got != target/120*120 {
					t.Errorf("%s: LowerBound(%d) = %d, want %d", name, target+5, got, target/120*120)
					return
				}
			}
		}(name, l)
	}
	wg.Wait()
}

func BenchmarkLowerBound(b *testing.B) {
	rb := NewRingBuffer[testRecord](1 << 16)
	fillUniform(rb, 0, 12, 1<<16)
	for name, l := range strategies(rb) {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				l.LowerBound(Tick(i%(1<<16))*120+7, false)
			}
		})
	}
}
