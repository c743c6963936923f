// Package field implements arithmetic over F_P for the fixed 57-bit prime
// P = 144115188075855859, with a deferred-reduction accumulator for
// matrix-vector multiply-accumulate loops.
package field

import "math/bits"

// P is the field modulus, a 57-bit prime: 2^57 - 13.
const P uint64 = 144115188075855859

// MaxAccum bounds the number of unreduced product-additions an Accumulator
// may hold before it must be reduced. Each product of two elements < P fits
// in 114 bits, so MaxAccum additions fit in 2*57 + 15 = 129 bits: one bit
// more than a 128-bit register, which is why Accumulator carries a third
// limb above hi:lo.
const MaxAccum = 1 << 15

// AddReduce returns (a + b) mod P for already-reduced a, b < P.
func AddReduce(a, b uint64) uint64 {
	s := a + b
	if s >= P || s < a {
		s -= P
	}
	return s
}

// SubReduce returns (a - b) mod P for already-reduced a, b < P.
func SubReduce(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return P - (b - a)
}

// MulReduce returns a*b mod P using 64x64->128 multiplication.
func MulReduce(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return reduce128(hi, lo)
}

// reduce128 reduces a 128-bit value (hi:lo) modulo P.
func reduce128(hi, lo uint64) uint64 {
	_, rem := bits.Div64(hi%P, lo, P)
	return rem
}

// Accumulator batches many a*b multiply-accumulates into an unreduced
// register and reduces modulo P only once every MaxAccum additions, per the
// deferred-reduction policy in spec.md §4.1/§9. The register keeps a third
// overflow limb above the 128-bit (hi:lo) product width: a single product
// is already up to 114 bits, so MaxAccum=2^15 of them can carry one bit past
// a plain 128-bit register, and top absorbs that without losing precision.
type Accumulator struct {
	top, hi, lo uint64
	count       int
}

// FMA appends a*b to the accumulator without reducing, except when the
// accumulation count would exceed MaxAccum, in which case it reduces first.
func (acc *Accumulator) FMA(a, b uint64) {
	if acc.count >= MaxAccum {
		acc.reduceInPlace()
	}
	phi, plo := bits.Mul64(a, b)
	var c0, c1 uint64
	acc.lo, c0 = bits.Add64(acc.lo, plo, 0)
	acc.hi, c1 = bits.Add64(acc.hi, phi, c0)
	acc.top += c1
	acc.count++
}

// reduceInPlace collapses the accumulator to a value < P and resets count.
func (acc *Accumulator) reduceInPlace() {
	acc.lo = reduce192(acc.top, acc.hi, acc.lo)
	acc.hi, acc.top = 0, 0
	acc.count = 0
}

// FinalReduce reduces and returns the accumulated value mod P, consuming it.
func (acc *Accumulator) FinalReduce() uint64 {
	v := reduce192(acc.top, acc.hi, acc.lo)
	acc.top, acc.hi, acc.lo, acc.count = 0, 0, 0, 0
	return v
}

// reduce192 reduces a 192-bit value (top:hi:lo) modulo P by repeated 128-bit
// reduction: fold the top limb in by reducing it against 2^128 mod P first.
func reduce192(top, hi, lo uint64) uint64 {
	if top == 0 {
		return reduce128(hi, lo)
	}
	// 2^128 mod P, folded in one multiplication since top fits in a handful
	// of bits for any realistic MaxAccum.
	topMod := reduce128(0, top)
	shifted := MulReduce(topMod, pow2Mod128)
	rest := reduce128(hi, lo)
	return AddReduce(shifted, rest)
}

// pow2Mod64 is 2^64 mod P; pow2Mod128 is 2^128 mod P, both precomputed for
// folding the Accumulator's overflow limb back into the field.
var (
	pow2Mod64  = reduce128(1, 0) // hi=1, lo=0 represents exactly 2^64
	pow2Mod128 = MulReduce(pow2Mod64, pow2Mod64)
)


// DotReduce computes sum(a[i]*b[i]) mod P for equal-length already-reduced
// slices, using a single Accumulator.
func DotReduce(a, b []uint64) uint64 {
	var acc Accumulator
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		acc.FMA(a[i], b[i])
	}
	return acc.FinalReduce()
}
