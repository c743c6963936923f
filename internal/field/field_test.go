package field

import (
	"math/big"
	"math/rand"
	"testing"
)

func refMod(a, b uint64) uint64 {
	x := new(big.Int).SetUint64(a)
	y := new(big.Int).SetUint64(b)
	p := new(big.Int).SetUint64(P)
	x.Mul(x, y)
	x.Mod(x, p)
	return x.Uint64()
}

func TestMulReduceAgainstBigInt(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		a := uint64(r.Int63n(int64(P)))
		b := uint64(r.Int63n(int64(P)))
		got := MulReduce(a, b)
		want := refMod(a, b)
		if got != want {
			t.Fatalf("MulReduce(%d,%d) = %d, want %d", a, b, got, want)
		}
	}
}

func TestAddReduce(t *testing.T) {
	if got := AddReduce(P-1, 1); got != 0 {
		t.Fatalf("AddReduce(P-1,1) = %d, want 0", got)
	}
	if got := AddReduce(5, 7); got != 12 {
		t.Fatalf("AddReduce(5,7) = %d, want 12", got)
	}
}

func TestSubReduce(t *testing.T) {
	if got := SubReduce(1, 2); got != P-1 {
		t.Fatalf("SubReduce(1,2) = %d, want %d", got, P-1)
	}
}

func TestAccumulatorMatchesNaiveSum(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	const n = 5000
	as := make([]uint64, n)
	bs := make([]uint64, n)
	want := new(big.Int)
	p := new(big.Int).SetUint64(P)
	for i := range as {
		as[i] = uint64(r.Int63n(int64(P)))
		bs[i] = uint64(r.Int63n(int64(P)))
		term := new(big.Int).SetUint64(as[i])
		term.Mul(term, new(big.Int).SetUint64(bs[i]))
		want.Add(want, term)
	}
	want.Mod(want, p)

	got := DotReduce(as, bs)
	if got != want.Uint64() {
		t.Fatalf("DotReduce = %d, want %d", got, want.Uint64())
	}
}

func TestAccumulatorCrossesMaxAccumBoundary(t *testing.T) {
	var acc Accumulator
	n := MaxAccum*2 + 17
	want := new(big.Int)
	p := new(big.Int).SetUint64(P)
	for i := 0; i < n; i++ {
		a := P - 1
		b := P - 1
		acc.FMA(a, b)
		term := new(big.Int).SetUint64(a)
		term.Mul(term, new(big.Int).SetUint64(b))
		want.Add(want, term)
	}
	want.Mod(want, p)
	got := acc.FinalReduce()
	if got != want.Uint64() {
		t.Fatalf("Accumulator over boundary = %d, want %d", got, want.Uint64())
	}
}
