package merkletree

import (
	"bytes"
	"fmt"
)

// SiblingHash is one entry of a range-read proof: the hash value together
// with its absolute post-order index in the tree file, so the client can
// sanity-check the index against what it independently recomputes.
type SiblingHash struct {
	Index int
	Hash  []byte
}

// RangeProof is the set of sibling hashes a server sends alongside the data
// blocks for a read of [b0, b0+bc) blocks, per spec.md §4.3.
type RangeProof struct {
	Siblings []SiblingHash
}

// BuildRangeProof computes the sibling set for a read touching blocks
// [b0, b0+bc) by recursive descent: subtrees fully disjoint from the
// request contribute exactly one hash (their own root); subtrees that
// overlap the request are recursed into. Order is pre-order, left-then-right,
// matching spec.md §4.3.
func (t *Tree) BuildRangeProof(b0, bc int) (*RangeProof, error) {
	nblocks := t.Cfg.NumBlocks()
	if bc == 0 {
		return &RangeProof{}, nil
	}
	if b0 < 0 || b0+bc > nblocks {
		return nil, fmt.Errorf("merkletree: range [%d,%d) out of bounds for %d blocks", b0, b0+bc, nblocks)
	}

	var out []SiblingHash
	var walk func(lo, n int)
	walk = func(lo, n int) {
		hi := lo + n
		reqHi := b0 + bc
		if hi <= b0 || lo >= reqHi {
			idx := NodeIndex(nblocks, lo, n)
			out = append(out, SiblingHash{Index: idx, Hash: t.Hashes[idx]})
			return
		}
		if n == 1 {
			return
		}
		split := splitPoint(n)
		walk(lo, split)
		walk(lo+split, n-split)
	}
	walk(0, nblocks)
	return &RangeProof{Siblings: out}, nil
}

// RangeProofIndices returns the post-order hash indices a client must
// request for a read of [b0, b0+bc) blocks out of nblocks total, in the
// same pre-order left-then-right sequence BuildRangeProof emits. Unlike
// BuildRangeProof, this needs no built Tree: the index sequence depends
// only on (nblocks, b0, bc), so the client can compute exactly which
// hashes to ask the server for before it has seen any of them.
func RangeProofIndices(nblocks, b0, bc int) ([]int, error) {
	if bc == 0 {
		return nil, nil
	}
	if b0 < 0 || b0+bc > nblocks {
		return nil, fmt.Errorf("merkletree: range [%d,%d) out of bounds for %d blocks", b0, b0+bc, nblocks)
	}

	var out []int
	reqHi := b0 + bc
	var walk func(lo, n int)
	walk = func(lo, n int) {
		hi := lo + n
		if hi <= b0 || lo >= reqHi {
			out = append(out, NodeIndex(nblocks, lo, n))
			return
		}
		if n == 1 {
			return
		}
		split := splitPoint(n)
		walk(lo, split)
		walk(lo+split, n-split)
	}
	walk(0, nblocks)
	return out, nil
}

// siblingCursor consumes a RangeProof's entries in order.
type siblingCursor struct {
	proof *RangeProof
	pos   int
}

func (c *siblingCursor) next() ([]byte, int, error) {
	if c.pos >= len(c.proof.Siblings) {
		return nil, 0, fmt.Errorf("merkletree: proof exhausted")
	}
	s := c.proof.Siblings[c.pos]
	c.pos++
	return s.Hash, s.Index, nil
}

// VerifyRangeProof reconstructs the root from the received data blocks and
// sibling proof via the symmetric recursion to BuildRangeProof, and reports
// whether it matches root. blockAt(i) must return the i-th block's bytes
// (the caller is responsible for assembling them from whatever buffers it
// used for a short first/last block, per spec.md §4.3's buffer-placement
// guidance).
func VerifyRangeProof(cfg Config, root []byte, b0, bc int, proof *RangeProof, blockAt func(i int) []byte) (bool, error) {
	nblocks := cfg.NumBlocks()
	if bc == 0 {
		return true, nil
	}
	if b0 < 0 || b0+bc > nblocks {
		return false, fmt.Errorf("merkletree: range [%d,%d) out of bounds for %d blocks", b0, b0+bc, nblocks)
	}

	cur := &siblingCursor{proof: proof}
	reqHi := b0 + bc

	var walk func(lo, n int) ([]byte, error)
	walk = func(lo, n int) ([]byte, error) {
		hi := lo + n
		if hi <= b0 || lo >= reqHi {
			h, idx, err := cur.next()
			if err != nil {
				return nil, err
			}
			if idx != NodeIndex(nblocks, lo, n) {
				return nil, fmt.Errorf("merkletree: sibling index mismatch: got %d want %d", idx, NodeIndex(nblocks, lo, n))
			}
			return h, nil
		}
		if n == 1 {
			return leafHash(cfg.HashAlg, blockAt(lo))
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
		return nodeHash(cfg.HashAlg, lh, rh)
	}

	got, err := walk(0, nblocks)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, root), nil
}
