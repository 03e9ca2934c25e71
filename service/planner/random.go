package planner

import (
	"math/rand/v2"
)

// RandomSource is the only source of randomness in a launch. Seeding it makes
// jitter and tip selection reproducible.
type RandomSource interface {
	// IntN returns a uniform value in [0, n).
	IntN(n int) int
}

// NewRandomSource returns a PCG source. A zero seed draws a random one.
func NewRandomSource(seed uint64) RandomSource {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SequenceSource replays fixed values, wrapping around. Values are reduced
// modulo n. Used by tests and dry runs that need a known outcome.
type SequenceSource struct {
	values []int
	next   int
}

// NewSequenceSource creates a SequenceSource over values.
func NewSequenceSource(values ...int) *SequenceSource {
	return &SequenceSource{values: values}
}

func (s *SequenceSource) IntN(n int) int {
	if len(s.values) == 0 || n <= 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return ((v % n) + n) % n
}
