// Package audit implements the linear-algebra tag-and-challenge verifier of
// spec.md §4.4: a setup pipeline that reduces a file into a tag vector
// t = u·M over the 57-bit prime field, and an audit round that checks a
// server-returned y = M·c against it without either side ever materialising
// M in memory.
package audit

import (
	"fmt"
	"io"
	"math"

	"github.com/MuriData/muri-por/internal/packer"
	"github.com/MuriData/muri-por/internal/porerr"
)

// ChunkMatrix is the deterministic m×n view of a file's chunk sequence
// (spec.md §3): M[i][j] is chunk i*n+j, zero past num_chunks. It is never
// materialised; Row streams one row at a time from the backing file.
type ChunkMatrix struct {
	r         io.ReaderAt
	fileSize  int64
	m, n      int
	numChunks int
}

// rowGroupChunks is the rounding unit for n: 56 chunks, the width spec.md §3
// rounds n up to (not 8 — n mod 8 = 0 is the weaker invariant it implies,
// not the rounding unit itself; rounding to a multiple of 8 instead would
// give n=8 for a 1-chunk file, not the n=56 the worked example requires).
const rowGroupChunks = 56

// Dimensions computes (m, n) for a file of fileSize bytes per spec.md §3:
// n is the smallest multiple of 56 with n >= ceil(sqrt(numChunks)). m is
// ceil(numChunks / n), floored at n itself so the matrix never degenerates
// into a single skinny row for small files — a 1xn matrix would let one
// challenge coordinate reveal the entire secret vector, and spec.md §8's
// worked 1-chunk example (S1) gives m=n=56, not m=1.
func Dimensions(fileSize int64) (m, n, numChunks int) {
	numChunks = int((fileSize + int64(packer.BytesPerChunk) - 1) / int64(packer.BytesPerChunk))
	if numChunks == 0 {
		return 0, rowGroupChunks, 0
	}
	root := int(math.Ceil(math.Sqrt(float64(numChunks))))
	n = ((root + rowGroupChunks - 1) / rowGroupChunks) * rowGroupChunks
	if n == 0 {
		n = rowGroupChunks
	}
	m = (numChunks + n - 1) / n
	if m < n {
		m = n
	}
	return m, n, numChunks
}

// NewChunkMatrix builds the view for a file of the given size, read through r.
func NewChunkMatrix(r io.ReaderAt, fileSize int64) *ChunkMatrix {
	m, n, numChunks := Dimensions(fileSize)
	return &ChunkMatrix{r: r, fileSize: fileSize, m: m, n: n, numChunks: numChunks}
}

// Row returns the n chunks of row i, zero-padded past num_chunks or past
// end of file.
func (cm *ChunkMatrix) Row(i int) ([]uint64, error) {
	rowStart := int64(i) * int64(cm.n) * int64(packer.BytesPerChunk)
	rowBytes := cm.n * packer.BytesPerChunk
	buf := make([]byte, rowBytes)

	toRead := cm.fileSize - rowStart
	if toRead < 0 {
		toRead = 0
	}
	if toRead > int64(rowBytes) {
		toRead = int64(rowBytes)
	}
	if toRead > 0 {
		if _, err := cm.r.ReadAt(buf[:toRead], rowStart); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: read row %d: %v", porerr.ErrIOFatal, i, err)
		}
	}
	chunks := packer.Unpack(buf, cm.n)

	firstChunkOfRow := i * cm.n
	for j := range chunks {
		if firstChunkOfRow+j >= cm.numChunks {
			chunks[j] = 0
		}
	}
	return chunks, nil
}
