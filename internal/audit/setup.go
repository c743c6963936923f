package audit

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/MuriData/muri-por/internal/field"
	"github.com/MuriData/muri-por/internal/porerr"
	"github.com/MuriData/muri-por/internal/prng"
)

// Setup computes the secret vector u and tag vector t = u·M for the file at
// path, per spec.md §4.4. Rows are streamed and reduced by a static
// worker pool: each worker owns a disjoint, contiguous row range and
// accumulates its own partial t, summed at a join barrier once every
// worker finishes — the same parallel-reduction shape as the teacher's
// rebuildBottomEntries worker pool (pkg/merkle/checkpoint.go), adapted from
// per-leaf hashing to per-row field accumulation.
func Setup(path string, seed uint64) (u []uint64, t []uint64, m, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("%w: open %s: %v", porerr.ErrIOFatal, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("%w: stat %s: %v", porerr.ErrIOFatal, path, err)
	}

	m, n, _ = Dimensions(info.Size())
	if m == 0 {
		return nil, make([]uint64, n), m, n, nil
	}

	u = prng.Vector(seed, m)
	cm := NewChunkMatrix(f, info.Size())

	t, err = reduceRows(cm, m, n, func(i int) uint64 { return u[i] })
	if err != nil {
		return nil, nil, 0, 0, err
	}
	return u, t, m, n, nil
}

// Respond computes y = M·c for the server's audit response. Rows are
// streamed to a GOMAXPROCS-sized worker pool over a channel, each worker
// writing its rows' y entries directly; unlike Setup there is no per-worker
// partial vector to sum.
func Respond(path string, c []uint64, expectedN int) (y []uint64, m, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: open %s: %v", porerr.ErrIOFatal, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: stat %s: %v", porerr.ErrIOFatal, path, err)
	}

	m, n, _ = Dimensions(info.Size())
	if n != expectedN || len(c) != n {
		return nil, m, n, fmt.Errorf("%w: challenge length %d does not match n=%d", porerr.ErrProtocolMismatch, len(c), n)
	}
	if m == 0 {
		return nil, m, n, nil
	}

	cm := NewChunkMatrix(f, info.Size())
	y = make([]uint64, m)

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > m {
		numWorkers = m
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	rows := make(chan int, m)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				row, err := cm.Row(i)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				var acc field.Accumulator
				for j, mij := range row {
					acc.FMA(mij, c[j])
				}
				y[i] = acc.FinalReduce()
			}
		}()
	}
	for i := 0; i < m; i++ {
		rows <- i
	}
	close(rows)
	wg.Wait()

	if firstErr != nil {
		return nil, m, n, firstErr
	}
	return y, m, n, nil
}

// reduceRows computes, for every column j, Σ_i weight(i)·M[i][j] mod P,
// partitioning rows statically across a worker pool and summing partial
// per-worker column vectors at a join barrier.
func reduceRows(cm *ChunkMatrix, m, n int, weight func(i int) uint64) ([]uint64, error) {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > m {
		numWorkers = m
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	partials := make([][]field.Accumulator, numWorkers)
	for w := range partials {
		partials[w] = make([]field.Accumulator, n)
	}

	rowsPerWorker := (m + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	errs := make([]error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		lo := w * rowsPerWorker
		hi := lo + rowsPerWorker
		if hi > m {
			hi = m
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			acc := partials[w]
			for i := lo; i < hi; i++ {
				row, err := cm.Row(i)
				if err != nil {
					errs[w] = err
					return
				}
				wi := weight(i)
				for j, mij := range row {
					acc[j].FMA(wi, mij)
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	t := make([]uint64, n)
	for j := 0; j < n; j++ {
		var total uint64
		for w := 0; w < numWorkers; w++ {
			total = field.AddReduce(total, partials[w][j].FinalReduce())
		}
		t[j] = total
	}
	return t, nil
}

// VerifyAudit checks ⟨u,y⟩ == ⟨t,c⟩ mod P, per spec.md §4.4.
func VerifyAudit(u, t, c, y []uint64) (bool, error) {
	if len(u) != len(y) {
		return false, fmt.Errorf("%w: |u|=%d != |y|=%d", porerr.ErrProtocolMismatch, len(u), len(y))
	}
	if len(t) != len(c) {
		return false, fmt.Errorf("%w: |t|=%d != |c|=%d", porerr.ErrProtocolMismatch, len(t), len(c))
	}
	lhs := field.DotReduce(u, y)
	rhs := field.DotReduce(t, c)
	return lhs == rhs, nil
}
