package emulator

import "math/rand/v2"

// ErrorBitGenerator hands out precomputed 16-bit frame error words. With
// probability rate a word has one random bit set, otherwise it is zero.
type ErrorBitGenerator struct {
	words []uint16
	next  int
}

// NewErrorBitGenerator builds a population of size words.
func NewErrorBitGenerator(rate float64, size int, rnd *rand.Rand) *ErrorBitGenerator {
	if rate <= 0 || size <= 0 {
		return &ErrorBitGenerator{words: []uint16{0}}
	}
	words := make([]uint16, size)
	for i := range words {
		if rnd.Float64() < rate {
			words[i] = 1 << rnd.IntN(16)
		}
	}
	return &ErrorBitGenerator{words: words}
}

// Next returns the following word, cycling through the population.
func (g *ErrorBitGenerator) Next() uint16 {
	w := g.words[g.next]
	g.next++
	if g.next == len(g.words) {
		g.next = 0
	}
	return w
}

// dropoutPopulation returns size emit/skip decisions, each true with
// probability 1-rate. A zero rate yields a single always-true entry.
func dropoutPopulation(rate float64, size int, rnd *rand.Rand) []bool {
	if rate <= 0 || size <= 0 {
		return []bool{true}
	}
	emit := make([]bool, size)
	for i := range emit {
		emit[i] = rnd.Float64() >= rate
	}
	return emit
}
