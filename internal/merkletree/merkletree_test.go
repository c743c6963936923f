package merkletree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
)

func testConfig(size uint64, blockSize uint32) Config {
	return Config{BlockSize: blockSize, HashAlg: HashSHA3_256, Size: size}
}

func randomFile(t *testing.T, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	rand.New(rand.NewSource(1)).Read(buf)
	return buf
}

// TestCompleteness checks every (b0, bc) sub-range of a file verifies
// against the tree built over it — spec.md §8 testable property #7.
func TestCompleteness(t *testing.T) {
	data := randomFile(t, 10000)
	cfg := testConfig(uint64(len(data)), 4096)
	tree, err := Build(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	nblocks := cfg.NumBlocks()

	for b0 := 0; b0 < nblocks; b0++ {
		for bc := 1; b0+bc <= nblocks; bc++ {
			proof, err := tree.BuildRangeProof(b0, bc)
			if err != nil {
				t.Fatalf("BuildRangeProof(%d,%d): %v", b0, bc, err)
			}
			ok, err := VerifyRangeProof(cfg, tree.Root, b0, bc, proof, func(i int) []byte {
				lo := i * int(cfg.BlockSize)
				hi := lo + int(cfg.BlockSize)
				if hi > len(data) {
					hi = len(data)
				}
				return data[lo:hi]
			})
			if err != nil {
				t.Fatalf("VerifyRangeProof(%d,%d): %v", b0, bc, err)
			}
			if !ok {
				t.Fatalf("VerifyRangeProof(%d,%d) = false, want true", b0, bc)
			}
		}
	}
}

// TestCompletenessAcrossLeafCounts exercises nblocks in {4,5,6,7,8} with
// block_size=4096, the range TestCompleteness's single 3-leaf file misses.
// A 4-leaf tree is the smallest shape where NodeIndex must distinguish a
// leaf that is the right child of an internal split (leaf 3, under node
// (2,4)) from one that completes a leading complete subtree, so this is
// also a regression test for that collision.
func TestCompletenessAcrossLeafCounts(t *testing.T) {
	const blockSize = 4096
	for nblocks := 4; nblocks <= 8; nblocks++ {
		nblocks := nblocks
		t.Run(fmt.Sprintf("nblocks=%d", nblocks), func(t *testing.T) {
			size := blockSize*(nblocks-1) + 1 // force exactly nblocks blocks
			data := randomFile(t, size)
			cfg := testConfig(uint64(len(data)), blockSize)
			if cfg.NumBlocks() != nblocks {
				t.Fatalf("NumBlocks() = %d, want %d", cfg.NumBlocks(), nblocks)
			}
			tree, err := Build(bytes.NewReader(data), cfg)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			seen := make(map[int]bool)
			for i, h := range tree.Hashes {
				if h == nil {
					t.Fatalf("nblocks=%d: hashes[%d] is nil, want a hash", nblocks, i)
				}
				if seen[i] {
					t.Fatalf("nblocks=%d: index %d emitted twice", nblocks, i)
				}
				seen[i] = true
			}

			for b0 := 0; b0 < nblocks; b0++ {
				for bc := 1; b0+bc <= nblocks; bc++ {
					proof, err := tree.BuildRangeProof(b0, bc)
					if err != nil {
						t.Fatalf("BuildRangeProof(%d,%d): %v", b0, bc, err)
					}
					ok, err := VerifyRangeProof(cfg, tree.Root, b0, bc, proof, func(i int) []byte {
						lo := i * int(cfg.BlockSize)
						hi := lo + int(cfg.BlockSize)
						if hi > len(data) {
							hi = len(data)
						}
						return data[lo:hi]
					})
					if err != nil {
						t.Fatalf("VerifyRangeProof(%d,%d): %v", b0, bc, err)
					}
					if !ok {
						t.Fatalf("VerifyRangeProof(%d,%d) = false, want true", b0, bc)
					}
				}
			}
		})
	}
}

// TestNodeIndexNoCollisions checks NodeIndex assigns a distinct index to
// every (lo, n) pair splitPoint actually produces, for nblocks up to 64 —
// the closed form this replaced collided leaf 3 with node(2,4) at nblocks=4.
func TestNodeIndexNoCollisions(t *testing.T) {
	var walk func(nblocks, lo, n int, seen map[int]string)
	walk = func(nblocks, lo, n int, seen map[int]string) {
		idx := NodeIndex(nblocks, lo, n)
		label := fmt.Sprintf("(lo=%d,n=%d)", lo, n)
		if prev, ok := seen[idx]; ok && prev != label {
			t.Fatalf("nblocks=%d: index %d collides between %s and %s", nblocks, idx, prev, label)
		}
		seen[idx] = label
		if n <= 1 {
			return
		}
		split := splitPoint(n)
		walk(nblocks, lo, split, seen)
		walk(nblocks, lo+split, n-split, seen)
	}
	for nblocks := 2; nblocks <= 64; nblocks++ {
		seen := make(map[int]string)
		walk(nblocks, 0, nblocks, seen)
		if len(seen) != 2*nblocks-1 {
			t.Fatalf("nblocks=%d: got %d distinct indices, want %d", nblocks, len(seen), 2*nblocks-1)
		}
	}
}

// TestSoundness checks that flipping any bit in a served block, or in any
// sibling hash of its proof, makes verification fail — spec.md §8 testable
// property #8.
func TestSoundness(t *testing.T) {
	data := randomFile(t, 10000)
	cfg := testConfig(uint64(len(data)), 4096)
	tree, err := Build(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	b0, bc := 0, 2
	proof, err := tree.BuildRangeProof(b0, bc)
	if err != nil {
		t.Fatalf("BuildRangeProof: %v", err)
	}

	blockAt := func(corruptBlock int) func(i int) []byte {
		return func(i int) []byte {
			lo := i * int(cfg.BlockSize)
			hi := lo + int(cfg.BlockSize)
			if hi > len(data) {
				hi = len(data)
			}
			block := bytes.Clone(data[lo:hi])
			if i == corruptBlock {
				block[0] ^= 0xff
			}
			return block
		}
	}

	ok, err := VerifyRangeProof(cfg, tree.Root, b0, bc, proof, blockAt(b0))
	if err != nil {
		t.Fatalf("VerifyRangeProof: %v", err)
	}
	if ok {
		t.Fatal("corrupted block verified, want failure")
	}

	if len(proof.Siblings) == 0 {
		t.Fatal("expected at least one sibling hash for this range")
	}
	corrupted := &RangeProof{Siblings: make([]SiblingHash, len(proof.Siblings))}
	copy(corrupted.Siblings, proof.Siblings)
	badHash := bytes.Clone(corrupted.Siblings[0].Hash)
	badHash[0] ^= 0xff
	corrupted.Siblings[0].Hash = badHash

	ok, err = VerifyRangeProof(cfg, tree.Root, b0, bc, corrupted, func(i int) []byte {
		lo := i * int(cfg.BlockSize)
		hi := lo + int(cfg.BlockSize)
		if hi > len(data) {
			hi = len(data)
		}
		return data[lo:hi]
	})
	if err != nil {
		t.Fatalf("VerifyRangeProof: %v", err)
	}
	if ok {
		t.Fatal("corrupted sibling hash verified, want failure")
	}
}

// TestRangeProofSiblingCount covers a 10000-byte file with block_size=4096
// (3 leaves, blocks [0,4096) [4096,8192) [8192,10000)): a read of bytes
// [100,8300) touches all three blocks, so the proof needs zero siblings,
// while a read confined to the first block, [100,4096), needs one sibling
// per split level of the remaining two-leaf subtree.
func TestRangeProofSiblingCount(t *testing.T) {
	data := randomFile(t, 10000)
	cfg := testConfig(uint64(len(data)), 4096)
	tree, err := Build(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	blockOf := func(byteOff int) int { return byteOff / int(cfg.BlockSize) }

	b0 := blockOf(100)
	bc := blockOf(8299) - b0 + 1
	proof, err := tree.BuildRangeProof(b0, bc)
	if err != nil {
		t.Fatalf("BuildRangeProof: %v", err)
	}
	if len(proof.Siblings) != 0 {
		t.Fatalf("got %d sibling hashes for a full-file read, want 0", len(proof.Siblings))
	}

	b0, bc = 0, 1
	proof, err = tree.BuildRangeProof(b0, bc)
	if err != nil {
		t.Fatalf("BuildRangeProof: %v", err)
	}
	if len(proof.Siblings) != 2 {
		t.Fatalf("got %d sibling hashes for block 0 alone, want 2", len(proof.Siblings))
	}
}

func TestEmptyFile(t *testing.T) {
	cfg := testConfig(0, 4096)
	tree, err := Build(bytes.NewReader(nil), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want, err := emptyRoot(cfg.HashAlg)
	if err != nil {
		t.Fatalf("emptyRoot: %v", err)
	}
	if !bytes.Equal(tree.Root, want) {
		t.Fatal("empty-file root mismatch")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := testConfig(123456, 4096)
	root := bytes.Repeat([]byte{0xab}, 32)

	var buf bytes.Buffer
	if err := WriteConfig(&buf, cfg, root, true); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	gotCfg, gotRoot, err := ReadConfig(&buf, true)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if gotCfg != cfg {
		t.Fatalf("config round trip: got %+v, want %+v", gotCfg, cfg)
	}
	if !bytes.Equal(gotRoot, root) {
		t.Fatal("root round trip mismatch")
	}
}

func TestSignatureChangesWithRoot(t *testing.T) {
	cfg := testConfig(123456, 4096)
	root1 := bytes.Repeat([]byte{0xab}, 32)
	root2 := bytes.Repeat([]byte{0xcd}, 32)

	sig1, err := Signature(cfg, root1)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	sig2, err := Signature(cfg, root2)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	if bytes.Equal(sig1, sig2) {
		t.Fatal("signature did not change with root")
	}
}

func TestSaveLoadTreeFile(t *testing.T) {
	data := randomFile(t, 10000)
	cfg := testConfig(uint64(len(data)), 4096)
	tree, err := Build(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var buf bytes.Buffer
	if err := SaveTreeFile(&buf, tree); err != nil {
		t.Fatalf("SaveTreeFile: %v", err)
	}

	loaded, err := LoadTreeFile(bytes.NewReader(buf.Bytes()), cfg)
	if err != nil {
		t.Fatalf("LoadTreeFile: %v", err)
	}
	if !bytes.Equal(loaded.Root, tree.Root) {
		t.Fatal("loaded root mismatch")
	}
	for i := range tree.Hashes {
		if !bytes.Equal(loaded.Hashes[i], tree.Hashes[i]) {
			t.Fatalf("hash %d mismatch", i)
		}
	}
}

func TestReadHashAt(t *testing.T) {
	data := randomFile(t, 10000)
	cfg := testConfig(uint64(len(data)), 4096)
	tree, err := Build(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var buf bytes.Buffer
	if err := SaveTreeFile(&buf, tree); err != nil {
		t.Fatalf("SaveTreeFile: %v", err)
	}
	hashSize, _ := cfg.HashSize()

	raw := buf.Bytes()
	for idx := range tree.Hashes {
		got, err := ReadHashAt(bytes.NewReader(raw), idx, hashSize)
		if err != nil {
			t.Fatalf("ReadHashAt(%d): %v", idx, err)
		}
		if !bytes.Equal(got, tree.Hashes[idx]) {
			t.Fatalf("ReadHashAt(%d) mismatch", idx)
		}
	}
}
