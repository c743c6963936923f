// Package merkletree implements the RFC-6962-style authenticator of
// spec.md §4.3: a greedy left-complete binary Merkle tree over fixed-size
// blocks of a raw file, with domain-separated leaf/internal hashing,
// incremental construction, and verified range-read proofs.
package merkletree

import (
	"bytes"
	"fmt"
	"io"
	"math/bits"

	"github.com/MuriData/muri-por/internal/porerr"
)

// Config is the persisted Merkle configuration of spec.md §4.3/§6.
type Config struct {
	BlockSize uint32
	HashAlg   HashAlg
	Size      uint64
}

// NumBlocks returns ceil(Size / BlockSize).
func (c Config) NumBlocks() int {
	if c.BlockSize == 0 {
		return 0
	}
	return int((c.Size + uint64(c.BlockSize) - 1) / uint64(c.BlockSize))
}

// HashSize returns the digest width in bytes for the configured algorithm.
func (c Config) HashSize() (int, error) {
	return c.HashAlg.Size()
}

// Tree is the full in-memory Merkle authenticator state: every hash emitted
// during construction, in canonical post-order, plus the config and root.
type Tree struct {
	Cfg    Config
	Hashes [][]byte // post-order emission sequence
	Root   []byte
}

const (
	leafTag = 0x00
	nodeTag = 0x01
)

func leafHash(alg HashAlg, block []byte) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	h.Write([]byte{leafTag})
	h.Write(block)
	return h.Sum(nil), nil
}

func nodeHash(alg HashAlg, left, right []byte) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	h.Write([]byte{nodeTag})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil), nil
}

// emptyRoot is the root of a zero-leaf tree: the digest of the empty
// string, with no domain tag, matching the standard RFC-6962 convention.
func emptyRoot(alg HashAlg) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// splitPoint returns the largest power of two strictly less than n for
// n > 1 (n itself is never returned since n is never a candidate split of
// itself); this is spec.md §4.3's "2^⌊log2(k-1)⌋" rule, the same split used
// by every RFC-6962-shaped tree in the example pack
// (other_examples/.../transparency-dev-merkle, .../pphaneuf-trillian).
func splitPoint(n int) int {
	if n <= 1 {
		return 0
	}
	return 1 << (bits.Len(uint(n-1)) - 1)
}

// NodeIndex returns the post-order emission index of the hash covering the
// n leaves starting at lo, within the full tree of nblocks leaves rooted
// at (0, nblocks). (lo, n) must be reachable by recursively applying
// splitPoint from (0, nblocks), which every caller in this package
// guarantees.
//
// This descends from the root rather than computing lo's offset in
// isolation: a subtree of m leaves always has exactly 2m-1 nodes
// regardless of its internal shape, but which leaves before lo ended up
// grouped into which completed subtrees depends on splitPoint's actual
// splits all the way down from the root, not on lo alone. A previous
// closed form (2*lo-1 nodes before leaf lo) implicitly assumed the first
// lo leaves always form one complete subtree, which is false whenever lo
// lands on a second child produced mid-recursion — e.g. for nblocks=4,
// leaf index 3 is the right child of (2,4), not the boundary of a
// 3-leaf complete subtree, and the old formula collided leaf 3's index
// with node(2,4)'s.
func NodeIndex(nblocks, lo, n int) int {
	return nodeIndexIn(0, nblocks, lo, n)
}

// nodeIndexIn finds (lo, n) by descending from the subtree (curLo, curN),
// which must contain it, and returns its post-order index. At each level,
// everything in the left half is emitted (nodes and all) before anything
// in the right half, so if the target lies in the right half the exact
// node count of the left half (2*leftN-1, an identity true for any shape)
// is added as a fixed offset before recursing into the right half.
func nodeIndexIn(curLo, curN, lo, n int) int {
	if curLo == lo && curN == n {
		return 2*curN - 2
	}
	split := splitPoint(curN)
	if lo < curLo+split {
		return nodeIndexIn(curLo, split, lo, n)
	}
	leftNodes := 2*split - 1
	return leftNodes + nodeIndexIn(curLo+split, curN-split, lo, n)
}

// Build streams nblocks fixed-size blocks from r (short final block allowed)
// and constructs the tree by recursive left-complete decomposition,
// reading blocks strictly left to right — equivalent to, and simpler than,
// the incremental trailing-ones stack construction spec.md §4.3 describes,
// while producing the identical canonical post-order emission sequence.
func Build(r io.Reader, cfg Config) (*Tree, error) {
	nblocks := cfg.NumBlocks()
	if nblocks == 0 {
		root, err := emptyRoot(cfg.HashAlg)
		if err != nil {
			return nil, err
		}
		return &Tree{Cfg: cfg, Root: root}, nil
	}

	hashes := make([][]byte, 2*nblocks-1)
	buf := make([]byte, cfg.BlockSize)
	var readErr error

	var build func(lo, n int) ([]byte, error)
	build = func(lo, n int) ([]byte, error) {
		if n == 1 {
			block, err := readBlock(r, buf, lo, nblocks, cfg)
			if err != nil {
				readErr = err
				return nil, err
			}
			h, err := leafHash(cfg.HashAlg, block)
			if err != nil {
				return nil, err
			}
			hashes[NodeIndex(nblocks, lo, 1)] = h
			return h, nil
		}
		split := splitPoint(n)
		lh, err := build(lo, split)
		if err != nil {
			return nil, err
		}
		rh, err := build(lo+split, n-split)
		if err != nil {
			return nil, err
		}
		h, err := nodeHash(cfg.HashAlg, lh, rh)
		if err != nil {
			return nil, err
		}
		hashes[NodeIndex(nblocks, lo, n)] = h
		return h, nil
	}

	root, err := build(0, nblocks)
	if err != nil {
		return nil, fmt.Errorf("merkletree: build: %w", err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("merkletree: build: %w", readErr)
	}
	return &Tree{Cfg: cfg, Hashes: hashes, Root: root}, nil
}

// RefreshBlocks recomputes leaf hashes for every block index in touched
// (read via blockReader) and refreshes every ancestor hash on the path to
// the root, leaving untouched subtrees' stored hashes as-is. It updates
// t.Hashes and t.Root in place. This walks the same recursive
// splitPoint/NodeIndex decomposition as Build, so it produces the exact
// hashes a full rebuild would, without re-reading untouched blocks.
func (t *Tree) RefreshBlocks(touched map[int]bool, blockReader func(i int) ([]byte, error)) error {
	nblocks := t.Cfg.NumBlocks()
	if nblocks == 0 {
		return nil
	}

	var walk func(lo, n int) ([]byte, error)
	walk = func(lo, n int) ([]byte, error) {
		hi := lo + n
		anyTouched := false
		for i := lo; i < hi; i++ {
			if touched[i] {
				anyTouched = true
				break
			}
		}
		if !anyTouched {
			return t.Hashes[NodeIndex(nblocks, lo, n)], nil
		}
		if n == 1 {
			block, err := blockReader(lo)
			if err != nil {
				return nil, err
			}
			h, err := leafHash(t.Cfg.HashAlg, block)
			if err != nil {
				return nil, err
			}
			t.Hashes[NodeIndex(nblocks, lo, 1)] = h
			return h, nil
		}
		split := splitPoint(n)
		lh, err := walk(lo, split)
		if err != nil {
			return nil, err
		}
		rh, err := walk(lo+split, n-split)
		if err != nil {
			return nil, err
		}
		h, err := nodeHash(t.Cfg.HashAlg, lh, rh)
		if err != nil {
			return nil, err
		}
		t.Hashes[NodeIndex(nblocks, lo, n)] = h
		return h, nil
	}

	root, err := walk(0, nblocks)
	if err != nil {
		return fmt.Errorf("merkletree: refresh: %w", err)
	}
	t.Root = root
	return nil
}

// readBlock reads the i-th block (0-based) of the file from r into buf,
// returning a short slice for the final block when Size is not a multiple
// of BlockSize. EOF on a non-final block is a fatal io_fatal error.
func readBlock(r io.Reader, buf []byte, i, nblocks int, cfg Config) ([]byte, error) {
	n := int(cfg.BlockSize)
	if i == nblocks-1 {
		last := int(cfg.Size % uint64(cfg.BlockSize))
		if last != 0 {
			n = last
		}
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, fmt.Errorf("%w: read block %d: %v", porerr.ErrIOFatal, i, err)
	}
	return bytes.Clone(buf[:n]), nil
}
