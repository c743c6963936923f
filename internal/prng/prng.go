// Package prng provides the seeded Mersenne-twister source spec.md §3 uses
// to generate the client's secret vector u, and the rejection-sampling
// helper that turns its output into uniform values in [0, P).
package prng

import (
	"gonum.org/v1/gonum/mathext/prng"

	"github.com/MuriData/muri-por/internal/field"
)

// Source wraps gonum's MT19937 behind a minimal Seed/Uint64 interface, the
// same shape luxfi-consensus/engine/chain/mt19937_wrapper.go uses to adapt
// the same generator for its own sampler package.
type Source struct {
	mt *prng.MT19937
}

// NewSource returns an MT19937 source seeded with the given 64-bit seed.
func NewSource(seed uint64) *Source {
	s := &Source{mt: prng.NewMT19937()}
	s.mt.Seed(seed)
	return s
}

// Uint64 returns the next raw 64-bit output of the generator.
func (s *Source) Uint64() uint64 {
	return s.mt.Uint64()
}

// NextFieldElement returns the next value in [0, field.P) via rejection
// sampling against the generator's raw 64-bit output, discarding draws that
// would bias the distribution (values >= the largest multiple of P below
// 2^64).
func (s *Source) NextFieldElement() uint64 {
	limit := (^uint64(0) / field.P) * field.P
	for {
		v := s.mt.Uint64()
		if v < limit {
			return v % field.P
		}
	}
}

// Vector generates n rejection-sampled field elements from a fresh source
// seeded with seed.
func Vector(seed uint64, n int) []uint64 {
	s := NewSource(seed)
	out := make([]uint64, n)
	for i := range out {
		out[i] = s.NextFieldElement()
	}
	return out
}
