// Package update implements the byte-range update protocol of spec.md §4.5:
// a server-side raw-byte rewrite that keeps the Merkle tree consistent, and
// a client-side differential patch of the tag vector t that avoids the
// byte/chunk aliasing bug the legacy client.c has.
package update

import (
	"fmt"
	"os"

	"github.com/MuriData/muri-por/internal/field"
	"github.com/MuriData/muri-por/internal/merkletree"
	"github.com/MuriData/muri-por/internal/packer"
	"github.com/MuriData/muri-por/internal/porerr"
)

// ChunkDelta names one field-level chunk whose value changed because of a
// raw-byte write: the column matrix's (row, col) are derived by the caller
// from ChunkIndex and n, since only the client knows its secret u and can
// weight the delta (the server never sees u).
type ChunkDelta struct {
	ChunkIndex int
	OldValue   uint64
	NewValue   uint64
}

// ApplyRange rewrites raw bytes [initial, initial+len(newBytes)) of the file
// at serverPath, refreshes the Merkle tree over every touched block, and
// returns the field-level chunk deltas the client needs to patch its tag
// vector. The chunk diff is computed by re-unpacking the touched, group-
// aligned window of the file before and after the write. The packer maps
// each byte into exactly one 7-byte chunk, so every chunk the range
// overlaps, however many there are, appears in the diff.
func ApplyRange(serverPath string, tree *merkletree.Tree, initial uint64, newBytes []byte) ([]ChunkDelta, error) {
	if len(newBytes) == 0 {
		return nil, nil
	}
	final := initial + uint64(len(newBytes)) - 1

	f, err := os.OpenFile(serverPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", porerr.ErrIOFatal, serverPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", porerr.ErrIOFatal, serverPath, err)
	}
	if final+1 > uint64(info.Size()) {
		return nil, fmt.Errorf("%w: update range [%d,%d] past file size %d", porerr.ErrBounds, initial, final, info.Size())
	}

	deltas, err := diffChunks(f, initial, final, newBytes)
	if err != nil {
		return nil, err
	}

	if _, err := f.WriteAt(newBytes, int64(initial)); err != nil {
		return nil, fmt.Errorf("%w: write update: %v", porerr.ErrIOFatal, err)
	}

	touched := touchedBlocks(tree.Cfg.BlockSize, initial, final)
	blockReader := func(i int) ([]byte, error) {
		n := int(tree.Cfg.BlockSize)
		lo := int64(i) * int64(tree.Cfg.BlockSize)
		if i == tree.Cfg.NumBlocks()-1 {
			last := int(tree.Cfg.Size % uint64(tree.Cfg.BlockSize))
			if last != 0 {
				n = last
			}
		}
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, lo); err != nil {
			return nil, fmt.Errorf("%w: read refreshed block %d: %v", porerr.ErrIOFatal, i, err)
		}
		return buf, nil
	}
	if err := tree.RefreshBlocks(touched, blockReader); err != nil {
		return nil, err
	}

	return deltas, nil
}

// touchedBlocks returns the set of block indices overlapping [initial, final].
func touchedBlocks(blockSize uint32, initial, final uint64) map[int]bool {
	touched := make(map[int]bool)
	first := int(initial / uint64(blockSize))
	last := int(final / uint64(blockSize))
	for i := first; i <= last; i++ {
		touched[i] = true
	}
	return touched
}

// diffChunks reads the chunk-group-aligned window covering [initial, final]
// before the write, re-unpacks it with newBytes applied, and returns every
// chunk whose value actually changed.
func diffChunks(f *os.File, initial, final uint64, newBytes []byte) ([]ChunkDelta, error) {
	groupBytes := int64(packer.GroupBytes)
	winStart := (int64(initial) / groupBytes) * groupBytes
	winEnd := ((int64(final) / groupBytes) + 1) * groupBytes

	winLen := int(winEnd - winStart)
	oldBuf := make([]byte, winLen)
	n, err := f.ReadAt(oldBuf, winStart)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: read update window: %v", porerr.ErrIOFatal, err)
	}
	oldBuf = oldBuf[:n]

	newBuf := make([]byte, len(oldBuf))
	copy(newBuf, oldBuf)
	writeOff := int64(initial) - winStart
	for i, b := range newBytes {
		off := int(writeOff) + i
		if off < 0 || off >= len(newBuf) {
			continue
		}
		newBuf[off] = b
	}

	groupChunks := len(oldBuf) / packer.BytesPerChunk
	if len(oldBuf)%packer.BytesPerChunk != 0 {
		groupChunks++
	}
	oldChunks := packer.Unpack(oldBuf, groupChunks)
	newChunks := packer.Unpack(newBuf, groupChunks)

	baseChunkIndex := int(winStart / int64(packer.BytesPerChunk))
	var deltas []ChunkDelta
	for i := range oldChunks {
		if oldChunks[i] != newChunks[i] {
			deltas = append(deltas, ChunkDelta{
				ChunkIndex: baseChunkIndex + i,
				OldValue:   oldChunks[i],
				NewValue:   newChunks[i],
			})
		}
	}
	return deltas, nil
}

// ApplyDelta patches the client's tag vector in place: for each changed
// chunk q with row r = q/n and column col = q mod n,
// t[col] = (t[col] + u[r]·(new−old)) mod P, per spec.md §4.5.
func ApplyDelta(t []uint64, u []uint64, n int, deltas []ChunkDelta) error {
	for _, d := range deltas {
		r := d.ChunkIndex / n
		col := d.ChunkIndex % n
		if r >= len(u) || col >= len(t) {
			return fmt.Errorf("%w: chunk index %d out of (m=%d,n=%d) bounds", porerr.ErrBounds, d.ChunkIndex, len(u), n)
		}
		diff := field.SubReduce(d.NewValue, d.OldValue)
		delta := field.MulReduce(u[r], diff)
		t[col] = field.AddReduce(t[col], delta)
	}
	return nil
}
